// Package permissions brokers the request/response handshake used when an
// agent wants to run a tool that needs user approval. Requests live in keyed
// TTL storage; responses travel over pub/sub so the waiting side unblocks the
// moment the user answers.
package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vesperbase/vesper/internal/metrics"
	"github.com/vesperbase/vesper/internal/transport"
)

const (
	requestKeyPrefix      = "permission_request:"
	responseChannelPrefix = "permission_response:"
	chatChannelPrefix     = "chat_events:"
)

// BrokerConfig holds configuration for Broker.
type BrokerConfig struct {
	// RequestTTL is how long an unanswered request stays retrievable
	// (default: 5 minutes).
	RequestTTL time.Duration

	// AwaitTimeout bounds how long AwaitResponse blocks (default: 5 minutes).
	AwaitTimeout time.Duration
}

// Broker coordinates permission requests between agents and users.
type Broker struct {
	bus    transport.Bus
	policy *Policy
	config BrokerConfig
	now    func() time.Time
}

// NewBroker creates a permission broker. policy may be nil, in which case
// nothing is auto-approved.
func NewBroker(bus transport.Bus, policy *Policy, config BrokerConfig) *Broker {
	if config.RequestTTL <= 0 {
		config.RequestTTL = 5 * time.Minute
	}
	if config.AwaitTimeout <= 0 {
		config.AwaitTimeout = 5 * time.Minute
	}

	return &Broker{
		bus:    bus,
		policy: policy,
		config: config,
		now:    time.Now,
	}
}

func requestKey(requestID string) string {
	return requestKeyPrefix + requestID
}

func responseChannel(requestID string) string {
	return responseChannelPrefix + requestID
}

func chatChannel(chatID string) string {
	return chatChannelPrefix + chatID
}

// CreateRequest stores a new request and notifies the chat's subscribers.
// If storing succeeds but the notification cannot be published, the request
// is removed again so the agent does not wait for a prompt nobody saw.
func (b *Broker) CreateRequest(ctx context.Context, chatID, toolName string, toolInput map[string]any) (*PermissionRequest, error) {
	request := &PermissionRequest{
		RequestID:  uuid.New().String(),
		ChatID:     chatID,
		ToolName:   toolName,
		ToolInput:  toolInput,
		EnqueuedAt: b.now().UTC(),
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding permission request: %w", err)
	}

	key := requestKey(request.RequestID)
	if err := b.bus.SetTTL(ctx, key, payload, b.config.RequestTTL); err != nil {
		return nil, fmt.Errorf("storing permission request: %w", err)
	}

	event, err := json.Marshal(RequestEvent{
		Type:      EventTypePermissionRequest,
		RequestID: request.RequestID,
		ChatID:    chatID,
		ToolName:  toolName,
		ToolInput: toolInput,
	})
	if err != nil {
		b.bus.Delete(ctx, key)
		return nil, fmt.Errorf("encoding request event: %w", err)
	}

	if err := b.bus.Publish(ctx, chatChannel(chatID), event); err != nil {
		b.bus.Delete(ctx, key)
		return nil, fmt.Errorf("notifying chat: %w", err)
	}

	metrics.RecordPermissionRequest()

	log.Info().
		Str("request_id", request.RequestID).
		Str("chat_id", chatID).
		Str("tool_name", toolName).
		Msg("Permission request created")

	return request, nil
}

// GetRequest loads a request, scoped to the requesting chat.
func (b *Broker) GetRequest(ctx context.Context, requestID, chatID string) (*PermissionRequest, error) {
	payload, err := b.bus.Get(ctx, requestKey(requestID))
	if err != nil {
		if errors.Is(err, transport.ErrKeyNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("loading permission request: %w", err)
	}

	var request PermissionRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		return nil, &ProtocolError{Cause: err}
	}

	if request.ChatID != chatID {
		return nil, ErrForbidden
	}

	return &request, nil
}

// AwaitResponse blocks until the user answers the request, the timeout
// elapses, or ctx is cancelled. The request's TTL is refreshed first so it
// outlives the wait; the key is removed on every exit path.
//
// If the broker's policy auto-approves the tool, no waiting happens at all.
func (b *Broker) AwaitResponse(ctx context.Context, requestID, chatID string) (*PermissionResult, error) {
	request, err := b.GetRequest(ctx, requestID, chatID)
	if err != nil {
		return nil, err
	}

	key := requestKey(requestID)

	if b.policy != nil {
		approved, policyErr := b.policy.AutoApproves(request.ToolName, request.ToolInput)
		if policyErr != nil {
			log.Warn().
				Err(policyErr).
				Str("request_id", requestID).
				Str("tool_name", request.ToolName).
				Msg("Policy evaluation failed, falling back to manual approval")
		} else if approved {
			b.bus.Delete(ctx, key)
			b.recordResolution("auto_approved", request)

			log.Info().
				Str("request_id", requestID).
				Str("tool_name", request.ToolName).
				Msg("Permission auto-approved by policy")

			return &PermissionResult{Approved: true}, nil
		}
	}

	// Keep the request alive for the whole wait even if most of its
	// original TTL already elapsed.
	if err := b.bus.Expire(ctx, key, b.config.RequestTTL); err != nil {
		if errors.Is(err, transport.ErrKeyNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("refreshing request ttl: %w", err)
	}

	// Subscribe before the blocking wait so a fast responder cannot slip
	// between the lookup and the listen.
	sub, err := b.bus.Subscribe(ctx, responseChannel(requestID))
	if err != nil {
		return nil, fmt.Errorf("subscribing for response: %w", err)
	}
	defer sub.Close()
	defer b.bus.Delete(context.WithoutCancel(ctx), key)

	timer := time.NewTimer(b.config.AwaitTimeout)
	defer timer.Stop()

	select {
	case payload, ok := <-sub.C():
		if !ok {
			return nil, ErrAwaitTimeout
		}

		var result PermissionResult
		if err := json.Unmarshal(payload, &result); err != nil {
			b.recordResolution("malformed", request)
			return nil, &ProtocolError{Cause: err}
		}

		outcome := "denied"
		if result.Approved {
			outcome = "approved"
		}
		b.recordResolution(outcome, request)

		log.Info().
			Str("request_id", requestID).
			Bool("approved", result.Approved).
			Msg("Permission response received")

		return &result, nil

	case <-timer.C:
		b.recordResolution("timeout", request)
		return nil, ErrAwaitTimeout

	case <-ctx.Done():
		b.recordResolution("cancelled", request)
		return nil, ctx.Err()
	}
}

// Respond delivers the user's answer. It reports false without error when
// the request no longer exists, so a stale approval prompt resolves quietly.
// Delivery is fire-and-forget: a response with no waiter is not an error.
func (b *Broker) Respond(ctx context.Context, requestID, chatID string, result *PermissionResult) (bool, error) {
	if _, err := b.GetRequest(ctx, requestID, chatID); err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return false, nil
		}
		return false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encoding permission response: %w", err)
	}

	if err := b.bus.Publish(ctx, responseChannel(requestID), payload); err != nil {
		return false, fmt.Errorf("publishing response: %w", err)
	}

	log.Info().
		Str("request_id", requestID).
		Str("chat_id", chatID).
		Bool("approved", result.Approved).
		Msg("Permission response published")

	return true, nil
}

func (b *Broker) recordResolution(outcome string, request *PermissionRequest) {
	metrics.RecordPermissionResolution(outcome, b.now().UTC().Sub(request.EnqueuedAt))
}

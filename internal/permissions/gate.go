package permissions

import "context"

// TokenVerifier authorizes a caller's token against a chat.
type TokenVerifier interface {
	Verify(token, chatID string) error
}

// Gate wraps a Broker with chat-token authorization. Every entry point
// except Respond requires a token whose chat claim matches chatID; Respond
// comes from the user's own session, which is authenticated upstream.
type Gate struct {
	broker *Broker
	tokens TokenVerifier
}

// NewGate creates a token-checking front for broker.
func NewGate(broker *Broker, tokens TokenVerifier) *Gate {
	return &Gate{broker: broker, tokens: tokens}
}

func (g *Gate) CreateRequest(ctx context.Context, token, chatID, toolName string, toolInput map[string]any) (*PermissionRequest, error) {
	if err := g.tokens.Verify(token, chatID); err != nil {
		return nil, err
	}
	return g.broker.CreateRequest(ctx, chatID, toolName, toolInput)
}

func (g *Gate) GetRequest(ctx context.Context, token, requestID, chatID string) (*PermissionRequest, error) {
	if err := g.tokens.Verify(token, chatID); err != nil {
		return nil, err
	}
	return g.broker.GetRequest(ctx, requestID, chatID)
}

func (g *Gate) AwaitResponse(ctx context.Context, token, requestID, chatID string) (*PermissionResult, error) {
	if err := g.tokens.Verify(token, chatID); err != nil {
		return nil, err
	}
	return g.broker.AwaitResponse(ctx, requestID, chatID)
}

func (g *Gate) Respond(ctx context.Context, requestID, chatID string, result *PermissionResult) (bool, error) {
	return g.broker.Respond(ctx, requestID, chatID, result)
}

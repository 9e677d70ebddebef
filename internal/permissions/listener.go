package permissions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vesperbase/vesper/internal/transport"
)

// CommandChannel is the pub/sub channel the listener consumes commands from.
const CommandChannel = "permission_commands"

// Command is one broker operation requested over the bus. ReplyTo names the
// channel the reply is published on; commands without one are executed but
// never answered.
type Command struct {
	Action    string            `json:"action"` // create, get, await, respond
	Token     string            `json:"token,omitempty"`
	ChatID    string            `json:"chat_id"`
	RequestID string            `json:"request_id,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	ToolInput map[string]any    `json:"tool_input,omitempty"`
	Result    *PermissionResult `json:"result,omitempty"`
	ReplyTo   string            `json:"reply_to,omitempty"`
}

// CommandReply is the listener's answer to a Command.
type CommandReply struct {
	OK        bool               `json:"ok"`
	Error     string             `json:"error,omitempty"`
	Request   *PermissionRequest `json:"request,omitempty"`
	Result    *PermissionResult  `json:"result,omitempty"`
	Delivered *bool              `json:"delivered,omitempty"`
}

// Listener hosts the permission handshake over the bus so out-of-process
// callers (the agent pipeline, the UI gateway) can drive the broker without
// a direct API surface. await commands block, so each command runs in its
// own goroutine.
type Listener struct {
	gate *Gate
	bus  transport.Bus

	ctx    context.Context
	cancel context.CancelFunc
	sub    transport.Subscription
	wg     sync.WaitGroup
}

// NewListener creates a command listener backed by gate.
func NewListener(gate *Gate, bus transport.Bus) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		gate:   gate,
		bus:    bus,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the command channel and begins dispatching.
func (l *Listener) Start() error {
	sub, err := l.bus.Subscribe(l.ctx, CommandChannel)
	if err != nil {
		return err
	}
	l.sub = sub

	l.wg.Add(1)
	go l.loop()

	log.Info().Str("channel", CommandChannel).Msg("Permission command listener started")
	return nil
}

// Stop cancels in-flight commands and waits for them to finish.
func (l *Listener) Stop() {
	l.cancel()
	if l.sub != nil {
		l.sub.Close()
	}
	l.wg.Wait()
}

func (l *Listener) loop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case payload, ok := <-l.sub.C():
			if !ok {
				return
			}

			var cmd Command
			if err := json.Unmarshal(payload, &cmd); err != nil {
				log.Warn().Err(err).Msg("Dropping malformed permission command")
				continue
			}

			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.reply(cmd, l.handle(cmd))
			}()
		}
	}
}

func (l *Listener) handle(cmd Command) CommandReply {
	switch cmd.Action {
	case "create":
		request, err := l.gate.CreateRequest(l.ctx, cmd.Token, cmd.ChatID, cmd.ToolName, cmd.ToolInput)
		if err != nil {
			return errorReply(err)
		}
		return CommandReply{OK: true, Request: request}

	case "get":
		request, err := l.gate.GetRequest(l.ctx, cmd.Token, cmd.RequestID, cmd.ChatID)
		if err != nil {
			return errorReply(err)
		}
		return CommandReply{OK: true, Request: request}

	case "await":
		result, err := l.gate.AwaitResponse(l.ctx, cmd.Token, cmd.RequestID, cmd.ChatID)
		if err != nil {
			return errorReply(err)
		}
		return CommandReply{OK: true, Result: result}

	case "respond":
		if cmd.Result == nil {
			return CommandReply{Error: "respond command requires a result"}
		}
		delivered, err := l.gate.Respond(l.ctx, cmd.RequestID, cmd.ChatID, cmd.Result)
		if err != nil {
			return errorReply(err)
		}
		return CommandReply{OK: true, Delivered: &delivered}

	default:
		return CommandReply{Error: "unknown action: " + cmd.Action}
	}
}

func (l *Listener) reply(cmd Command, reply CommandReply) {
	if cmd.ReplyTo == "" {
		return
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("action", cmd.Action).Msg("Failed to encode command reply")
		return
	}

	if err := l.bus.Publish(context.WithoutCancel(l.ctx), cmd.ReplyTo, payload); err != nil {
		log.Warn().Err(err).Str("reply_to", cmd.ReplyTo).Msg("Failed to publish command reply")
	}
}

func errorReply(err error) CommandReply {
	return CommandReply{Error: err.Error()}
}

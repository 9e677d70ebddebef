// Package stream converts the agent's raw message stream into the typed
// events the chat UI renders, tracking tool invocations across their
// start/result pairs.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

type toolState struct {
	id       string
	name     string
	title    string
	parentID string
	input    map[string]any
}

// Bridge is a stateful, single-session converter. Feed it messages in stream
// order; it returns the UI events each message produces. After a result
// message the stream is finished and further messages are ignored.
//
// A Bridge belongs to exactly one stream session and is not safe for
// concurrent use.
type Bridge struct {
	active         map[string]*toolState
	sessionHandler func(sessionID string)
	totalCostUSD   float64
	finished       bool
}

// NewBridge creates a bridge. sessionHandler, if non-nil, is called once with
// the session id from the stream's init message.
func NewBridge(sessionHandler func(sessionID string)) *Bridge {
	return &Bridge{
		active:         make(map[string]*toolState),
		sessionHandler: sessionHandler,
	}
}

// TotalCostUSD returns the cost reported by the stream's result message,
// or 0 if none arrived yet.
func (b *Bridge) TotalCostUSD() float64 {
	return b.totalCostUSD
}

// Finished reports whether the result message has been consumed.
func (b *Bridge) Finished() bool {
	return b.finished
}

// Feed consumes one message and returns the events it produces, possibly none.
func (b *Bridge) Feed(msg *Message) []Event {
	if b.finished || msg == nil {
		return nil
	}

	switch msg.Kind {
	case MessageSystem:
		b.handleSystem(msg)
		return nil

	case MessageAssistant:
		var events []Event
		for _, block := range msg.Content {
			events = append(events, b.blockEvents(block, msg.ParentToolUseID)...)
		}
		return events

	case MessageUser:
		return b.userEvents(msg)

	case MessageResult:
		if msg.TotalCostUSD != nil {
			b.totalCostUSD = *msg.TotalCostUSD
		}
		b.finished = true
		return nil
	}

	return nil
}

func (b *Bridge) handleSystem(msg *Message) {
	if msg.Subtype != "init" || b.sessionHandler == nil {
		return
	}

	if sessionID, ok := msg.Data["session_id"].(string); ok && sessionID != "" {
		b.sessionHandler(sessionID)
	}
}

func (b *Bridge) blockEvents(block Block, parentToolUseID string) []Event {
	switch block.Kind {
	case BlockText:
		if block.Text == "" {
			return nil
		}
		return []Event{{Type: EventAssistantText, Text: block.Text}}

	case BlockThinking:
		if block.Thinking == "" {
			return nil
		}
		return []Event{{Type: EventAssistantThinking, Thinking: block.Thinking}}

	case BlockToolUse:
		if event, ok := b.startTool(block, parentToolUseID); ok {
			return []Event{event}
		}
		return nil

	case BlockToolResult:
		if event, ok := b.finishTool(block); ok {
			return []Event{event}
		}
		return nil
	}

	return nil
}

func (b *Bridge) userEvents(msg *Message) []Event {
	if len(msg.Content) == 0 {
		if msg.PlainText == "" {
			return nil
		}
		return []Event{{Type: EventUserText, Text: msg.PlainText}}
	}

	var events []Event
	for _, block := range msg.Content {
		switch block.Kind {
		case BlockText:
			if block.Text != "" {
				events = append(events, Event{Type: EventUserText, Text: block.Text})
			}
		case BlockToolResult:
			if event, ok := b.finishTool(block); ok {
				events = append(events, event)
			}
		}
	}
	return events
}

// startTool records the invocation and emits tool_started. The parent id is
// kept by lookup only; no parent-to-child links are built.
func (b *Bridge) startTool(block Block, parentToolUseID string) (Event, bool) {
	if block.ID == "" {
		return Event{}, false
	}

	parentID := parentToolUseID
	if parentID == "" {
		parentID = block.ParentToolUseID
	}

	state := &toolState{
		id:       block.ID,
		name:     block.Name,
		title:    toolTitle(block.Name),
		parentID: parentID,
		input:    copyInput(block.Input),
	}
	b.active[block.ID] = state

	info := state.info(ToolStatusStarted)
	return Event{Type: EventToolStarted, Tool: info}, true
}

// finishTool closes the invocation and emits tool_completed or tool_failed.
// A result whose start event was never seen (stream re-connect) gets a
// placeholder identity instead of being dropped.
func (b *Bridge) finishTool(block Block) (Event, bool) {
	if block.ToolUseID == "" {
		return Event{}, false
	}

	state, ok := b.active[block.ToolUseID]
	if ok {
		delete(b.active, block.ToolUseID)
	} else {
		state = &toolState{
			id:    block.ToolUseID,
			name:  "unknown",
			title: "Unknown tool",
		}
	}

	if block.IsError {
		info := state.info(ToolStatusFailed)
		info.Error = stringifyResult(block.Content)
		return Event{Type: EventToolFailed, Tool: info}, true
	}

	info := state.info(ToolStatusCompleted)
	info.Result = normalizeResult(block.Content)
	return Event{Type: EventToolCompleted, Tool: info}, true
}

func (s *toolState) info(status string) *ToolInfo {
	return &ToolInfo{
		ID:       s.id,
		Name:     s.name,
		Title:    s.title,
		Status:   status,
		ParentID: s.parentID,
		Input:    s.input,
	}
}

// toolTitle derives a display title. Namespaced "mcp__server__tool_name"
// tools read as "tool name"; everything else keeps its raw name.
func toolTitle(name string) string {
	if strings.HasPrefix(name, "mcp__") {
		parts := strings.SplitN(name, "__", 3)
		if len(parts) == 3 {
			return strings.ReplaceAll(parts[2], "_", " ")
		}
	}
	return name
}

// normalizeResult recursively parses JSON-encoded strings inside the result.
// Tool output often carries stringified JSON that the UI wants as objects;
// anything that does not parse stays a raw string.
func normalizeResult(result any) any {
	switch v := result.(type) {
	case nil:
		return nil

	case []any:
		normalized := make([]any, len(v))
		for i, item := range v {
			normalized[i] = normalizeResult(item)
		}
		return normalized

	case map[string]any:
		normalized := make(map[string]any, len(v))
		for key, value := range v {
			normalized[key] = normalizeResult(value)
		}
		return normalized

	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return ""
		}
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return text
		}
		return parsed

	default:
		return result
	}
}

func stringifyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func copyInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}

	copied := make(map[string]any, len(input))
	for key, value := range input {
		copied[key] = value
	}
	return copied
}

package stream

// MessageKind discriminates the agent messages the bridge consumes.
type MessageKind string

const (
	MessageAssistant MessageKind = "assistant"
	MessageUser      MessageKind = "user"
	MessageSystem    MessageKind = "system"
	MessageResult    MessageKind = "result"
)

// BlockKind discriminates the content blocks inside a message.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Block is one content block of an agent message. Which fields are set
// depends on Kind.
type Block struct {
	Kind BlockKind

	// Text blocks
	Text string

	// Thinking blocks
	Thinking string

	// Tool use blocks
	ID              string
	Name            string
	Input           map[string]any
	ParentToolUseID string

	// Tool result blocks
	ToolUseID string
	Content   any
	IsError   bool
}

// Message is one message from the agent stream.
type Message struct {
	Kind MessageKind

	// Content blocks (assistant and user messages).
	Content []Block

	// PlainText carries a user message given as a bare string.
	PlainText string

	// ParentToolUseID marks assistant messages produced by a sub-agent.
	ParentToolUseID string

	// System message fields.
	Subtype string
	Data    map[string]any

	// Result message fields.
	TotalCostUSD *float64
}

// EventType enumerates the typed UI events the bridge emits.
type EventType string

const (
	EventAssistantText     EventType = "assistant_text"
	EventAssistantThinking EventType = "assistant_thinking"
	EventToolStarted       EventType = "tool_started"
	EventToolCompleted     EventType = "tool_completed"
	EventToolFailed        EventType = "tool_failed"
	EventUserText          EventType = "user_text"
	EventSystem            EventType = "system"
	EventPermissionRequest EventType = "permission_request"
)

// ToolStatus values carried on tool events.
const (
	ToolStatusStarted   = "started"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// ToolInfo identifies one tool invocation on a tool event.
type ToolInfo struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Title    string         `json:"title"`
	Status   string         `json:"status"`
	ParentID string         `json:"parent_id,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Event is one typed UI event.
type Event struct {
	Type      EventType      `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	Tool      *ToolInfo      `json:"tool,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// PermissionRequestEvent builds the event relayed to the UI when a tool use
// needs user approval. The broker has already registered the request.
func PermissionRequestEvent(requestID, toolName string, toolInput map[string]any) Event {
	return Event{
		Type:      EventPermissionRequest,
		RequestID: requestID,
		ToolName:  toolName,
		ToolInput: toolInput,
	}
}

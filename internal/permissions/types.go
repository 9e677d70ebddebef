package permissions

import "time"

// PermissionRequest is the stored record of one tool-use approval request.
type PermissionRequest struct {
	RequestID  string         `json:"request_id"`
	ChatID     string         `json:"chat_id"`
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// PermissionResult is the user's answer to a request.
type PermissionResult struct {
	Approved bool `json:"approved"`

	// AlternativeInstruction optionally replaces the denied action with a
	// different instruction for the agent.
	AlternativeInstruction string `json:"alternative_instruction,omitempty"`

	// UserAnswers carries free-form answers when the tool asked questions.
	UserAnswers map[string]string `json:"user_answers,omitempty"`
}

// RequestEvent is published on the chat's channel when a request is created,
// so a connected client can surface the approval prompt.
type RequestEvent struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	ChatID    string         `json:"chat_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// EventTypePermissionRequest is the Type of a RequestEvent.
const EventTypePermissionRequest = "permission_request"

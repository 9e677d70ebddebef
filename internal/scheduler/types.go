package scheduler

import (
	"encoding/json"
	"time"
)

// RecurrenceKind represents the repeat pattern of a scheduled task.
type RecurrenceKind string

const (
	// RecurrenceOnce runs a single time at the next occurrence of the scheduled time.
	RecurrenceOnce RecurrenceKind = "once"
	// RecurrenceDaily runs every day at the scheduled time.
	RecurrenceDaily RecurrenceKind = "daily"
	// RecurrenceWeekly runs every week on the scheduled day (0=Monday..6=Sunday).
	RecurrenceWeekly RecurrenceKind = "weekly"
	// RecurrenceMonthly runs every month on the scheduled day (1..31, clamped to month length).
	RecurrenceMonthly RecurrenceKind = "monthly"
)

// Valid reports whether the kind is a member of the closed set.
func (k RecurrenceKind) Valid() bool {
	switch k {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ExecutionStatus represents the status of one run attempt.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// ScheduledTask represents a recurring task owned by a user.
type ScheduledTask struct {
	ID             string          // Unique task ID
	UserID         string          // Owner
	TaskName       string          // Display name
	PromptMessage  string          // Prompt sent to the agent pipeline
	Recurrence     RecurrenceKind  // Repeat pattern
	ScheduledTime  string          // Wall-clock time of day, "HH:MM[:SS]", UTC
	ScheduledDay   *int            // Weekday (weekly) or day of month (monthly); nil otherwise
	NextExecution  *time.Time      // Next due timestamp; nil means no future run
	LastExecution  *time.Time      // Start of the last successful run
	Status         TaskStatus      // Lifecycle state
	Enabled        bool            // Whether the runner picks the task up
	ExecutionCount int             // Successful runs
	FailureCount   int             // Failed runs
	MaxRetries     int             // Advisory retry budget (stored, not enforced)
	LastError      *string         // Diagnostic from the last failed run
	ModelID        string          // Model the run should use
	PermissionMode string          // Passed through to the executor
	ThinkingMode   string          // Passed through to the executor
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskExecution represents one concrete run attempt of a scheduled task.
type TaskExecution struct {
	ID           string          // Unique execution ID
	TaskID       string          // Parent task
	ExecutedAt   time.Time       // Run start
	CompletedAt  *time.Time      // Run end (nil while running)
	DurationMs   int64           // Whole milliseconds, set when completed
	Status       ExecutionStatus // running, success, failed
	ChatID       string          // Chat produced by the run, if any
	MessageID    string          // Message produced by the run, if any
	ErrorMessage string          // Failure diagnostic
	Result       json.RawMessage // Structured result payload
	CreatedAt    time.Time
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	TaskName      string
	PromptMessage string
	Recurrence    RecurrenceKind
	ScheduledTime string
	ScheduledDay  *int
	ModelID       string
	MaxRetries    int
}

// TaskPatch holds a partial update; nil fields are left unchanged.
type TaskPatch struct {
	TaskName      *string
	PromptMessage *string
	Recurrence    *RecurrenceKind
	ScheduledTime *string
	ScheduledDay  *int
	ModelID       *string
	Enabled       *bool
}

// ToggleResult is returned by Toggle.
type ToggleResult struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// ExecutionPage is one page of execution history.
type ExecutionPage struct {
	Items   []*TaskExecution `json:"items"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Total   int              `json:"total"`
	Pages   int              `json:"pages"`
}

package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vesperbase/vesper/internal/database"
)

// Store handles database operations for scheduled tasks and their executions.
type Store struct {
	q database.Querier
}

// NewStore creates a new task store.
func NewStore(db *database.DB) *Store {
	return &Store{q: db}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx *database.Tx) *Store {
	return &Store{q: tx}
}

const taskColumns = `id, user_id, task_name, prompt_message, recurrence_type, scheduled_time, scheduled_day,
	next_execution, last_execution, status, enabled, execution_count, failure_count, max_retries,
	last_error, model_id, permission_mode, thinking_mode, created_at, updated_at`

// CreateTask inserts a new scheduled task.
func (s *Store) CreateTask(ctx context.Context, task *ScheduledTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}

	query := `
		INSERT INTO scheduled_tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.TaskName,
		task.PromptMessage,
		string(task.Recurrence),
		task.ScheduledTime,
		nullInt(task.ScheduledDay),
		nullTime(task.NextExecution),
		nullTime(task.LastExecution),
		string(task.Status),
		task.Enabled,
		task.ExecutionCount,
		task.FailureCount,
		task.MaxRetries,
		nullString(task.LastError),
		task.ModelID,
		task.PermissionMode,
		task.ThinkingMode,
		task.CreatedAt.Format(time.RFC3339),
		task.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting scheduled task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID, scoped to its owner. A task owned by
// another user reads as not found.
func (s *Store) GetTask(ctx context.Context, taskID, userID string) (*ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id = ? AND user_id = ?`

	task, err := scanTask(s.q.QueryRowContext(ctx, query, taskID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("getting scheduled task: %w", err)
	}

	return task, nil
}

// UpdateTask writes all mutable fields of a task, scoped to its owner.
func (s *Store) UpdateTask(ctx context.Context, task *ScheduledTask) error {
	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE scheduled_tasks
		SET task_name = ?, prompt_message = ?, recurrence_type = ?, scheduled_time = ?, scheduled_day = ?,
		    next_execution = ?, last_execution = ?, status = ?, enabled = ?, execution_count = ?,
		    failure_count = ?, max_retries = ?, last_error = ?, model_id = ?, permission_mode = ?,
		    thinking_mode = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`

	result, err := s.q.ExecContext(ctx, query,
		task.TaskName,
		task.PromptMessage,
		string(task.Recurrence),
		task.ScheduledTime,
		nullInt(task.ScheduledDay),
		nullTime(task.NextExecution),
		nullTime(task.LastExecution),
		string(task.Status),
		task.Enabled,
		task.ExecutionCount,
		task.FailureCount,
		task.MaxRetries,
		nullString(task.LastError),
		task.ModelID,
		task.PermissionMode,
		task.ThinkingMode,
		task.UpdatedAt.Format(time.RFC3339),
		task.ID,
		task.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating scheduled task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// DeleteTask removes a task and, via foreign key cascade, its executions.
func (s *Store) DeleteTask(ctx context.Context, taskID, userID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	if err != nil {
		return fmt.Errorf("deleting scheduled task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// ListTasks returns all tasks for a user ordered by next_execution ascending,
// with tasks that have no next run last.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]*ScheduledTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE user_id = ?
		ORDER BY next_execution IS NULL, next_execution ASC
	`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// CountActive counts a user's tasks that are enabled and pending or active,
// optionally excluding one task ID.
func (s *Store) CountActive(ctx context.Context, userID, excludeID string) (int, error) {
	query := `
		SELECT COUNT(id) FROM scheduled_tasks
		WHERE user_id = ? AND enabled = 1 AND status IN ('active', 'pending')
	`
	args := []any{userID}

	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}

	var count int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting active tasks: %w", err)
	}

	return count, nil
}

// DueTasks returns enabled tasks whose next_execution is at or before now.
func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE enabled = 1
		  AND next_execution IS NOT NULL
		  AND next_execution <= ?
		ORDER BY next_execution ASC
		LIMIT ?
	`

	rows, err := s.q.QueryContext(ctx, query, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// HasRecentExecution reports whether the task has a running or successful
// execution that started at or after since. Used for duplicate suppression.
func (s *Store) HasRecentExecution(ctx context.Context, taskID string, since time.Time) (bool, error) {
	query := `
		SELECT COUNT(id) FROM task_executions
		WHERE task_id = ?
		  AND executed_at >= ?
		  AND status IN ('running', 'success')
	`

	var count int
	if err := s.q.QueryRowContext(ctx, query, taskID, since.UTC().Format(time.RFC3339)).Scan(&count); err != nil {
		return false, fmt.Errorf("checking recent executions: %w", err)
	}

	return count > 0, nil
}

// CreateExecution inserts a new execution record.
func (s *Store) CreateExecution(ctx context.Context, exec *TaskExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO task_executions (id, task_id, executed_at, completed_at, duration_ms, status,
			chat_id, message_id, error_message, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var result sql.NullString
	if len(exec.Result) > 0 {
		result = sql.NullString{String: string(exec.Result), Valid: true}
	}

	_, err := s.q.ExecContext(ctx, query,
		exec.ID,
		exec.TaskID,
		exec.ExecutedAt.UTC().Format(time.RFC3339),
		nullTime(exec.CompletedAt),
		exec.DurationMs,
		string(exec.Status),
		exec.ChatID,
		exec.MessageID,
		exec.ErrorMessage,
		result,
		exec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting task execution: %w", err)
	}

	return nil
}

// FinalizeExecution closes out a running execution. duration_ms is derived
// from completedAt minus the stored executed_at.
func (s *Store) FinalizeExecution(ctx context.Context, exec *TaskExecution) error {
	if exec.CompletedAt == nil {
		return fmt.Errorf("finalizing execution %s: completed_at not set", exec.ID)
	}

	query := `
		UPDATE task_executions
		SET completed_at = ?, duration_ms = ?, status = ?, chat_id = ?, message_id = ?,
		    error_message = ?, result = ?
		WHERE id = ?
	`

	var result sql.NullString
	if len(exec.Result) > 0 {
		result = sql.NullString{String: string(exec.Result), Valid: true}
	}

	res, err := s.q.ExecContext(ctx, query,
		exec.CompletedAt.UTC().Format(time.RFC3339),
		exec.DurationMs,
		string(exec.Status),
		exec.ChatID,
		exec.MessageID,
		exec.ErrorMessage,
		result,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("finalizing task execution: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task execution not found: %s", exec.ID)
	}

	return nil
}

// ApplyRunResult updates the parent task after a run finished. Counters are
// bumped with SQL arithmetic so concurrent writers cannot lose updates.
// A nil next marks the schedule exhausted: the task is disabled and completed.
func (s *Store) ApplyRunResult(ctx context.Context, taskID string, executedAt time.Time, success bool, errMsg string, next *time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var query string
	var args []any

	switch {
	case success && next != nil:
		query = `
			UPDATE scheduled_tasks
			SET execution_count = execution_count + 1, last_execution = ?, last_error = NULL,
			    next_execution = ?, updated_at = ?
			WHERE id = ?
		`
		args = []any{executedAt.UTC().Format(time.RFC3339), next.UTC().Format(time.RFC3339), now, taskID}
	case success:
		query = `
			UPDATE scheduled_tasks
			SET execution_count = execution_count + 1, last_execution = ?, last_error = NULL,
			    next_execution = NULL, enabled = 0, status = 'completed', updated_at = ?
			WHERE id = ?
		`
		args = []any{executedAt.UTC().Format(time.RFC3339), now, taskID}
	case next != nil:
		query = `
			UPDATE scheduled_tasks
			SET failure_count = failure_count + 1, last_error = ?,
			    next_execution = ?, updated_at = ?
			WHERE id = ?
		`
		args = []any{errMsg, next.UTC().Format(time.RFC3339), now, taskID}
	default:
		query = `
			UPDATE scheduled_tasks
			SET failure_count = failure_count + 1, last_error = ?,
			    next_execution = NULL, enabled = 0, status = 'completed', updated_at = ?
			WHERE id = ?
		`
		args = []any{errMsg, now, taskID}
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("applying run result: %w", err)
	}

	return nil
}

// ExecutionHistory returns one page of a task's executions, newest first.
func (s *Store) ExecutionHistory(ctx context.Context, taskID string, page, perPage int) ([]*TaskExecution, int, error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(id) FROM task_executions WHERE task_id = ?`, taskID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting task executions: %w", err)
	}

	query := `
		SELECT id, task_id, executed_at, completed_at, duration_ms, status,
		       chat_id, message_id, error_message, result, created_at
		FROM task_executions
		WHERE task_id = ?
		ORDER BY executed_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.q.QueryContext(ctx, query, taskID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("querying task executions: %w", err)
	}
	defer rows.Close()

	var execs []*TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating execution rows: %w", err)
	}

	return execs, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*ScheduledTask, error) {
	var task ScheduledTask
	var recurrence, status string
	var scheduledDay sql.NullInt64
	var nextExec, lastExec, lastError sql.NullString
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.TaskName,
		&task.PromptMessage,
		&recurrence,
		&task.ScheduledTime,
		&scheduledDay,
		&nextExec,
		&lastExec,
		&status,
		&enabled,
		&task.ExecutionCount,
		&task.FailureCount,
		&task.MaxRetries,
		&lastError,
		&task.ModelID,
		&task.PermissionMode,
		&task.ThinkingMode,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Recurrence = RecurrenceKind(recurrence)
	task.Status = TaskStatus(status)
	task.Enabled = enabled == 1

	if scheduledDay.Valid {
		day := int(scheduledDay.Int64)
		task.ScheduledDay = &day
	}
	if lastError.Valid {
		msg := lastError.String
		task.LastError = &msg
	}

	var parseErr error
	if task.NextExecution, parseErr = parseNullTime(nextExec, "next_execution"); parseErr != nil {
		return nil, parseErr
	}
	if task.LastExecution, parseErr = parseNullTime(lastExec, "last_execution"); parseErr != nil {
		return nil, parseErr
	}
	if task.CreatedAt, parseErr = parseTime(createdAt, "created_at"); parseErr != nil {
		return nil, parseErr
	}
	if task.UpdatedAt, parseErr = parseTime(updatedAt, "updated_at"); parseErr != nil {
		return nil, parseErr
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*ScheduledTask, error) {
	var tasks []*ScheduledTask

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}

	return tasks, nil
}

func scanExecution(row scanner) (*TaskExecution, error) {
	var exec TaskExecution
	var status string
	var completedAt, result sql.NullString
	var executedAt, createdAt string

	err := row.Scan(
		&exec.ID,
		&exec.TaskID,
		&executedAt,
		&completedAt,
		&exec.DurationMs,
		&status,
		&exec.ChatID,
		&exec.MessageID,
		&exec.ErrorMessage,
		&result,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning execution row: %w", err)
	}

	exec.Status = ExecutionStatus(status)
	if result.Valid {
		exec.Result = []byte(result.String)
	}

	var parseErr error
	if exec.CompletedAt, parseErr = parseNullTime(completedAt, "completed_at"); parseErr != nil {
		return nil, parseErr
	}
	if exec.ExecutedAt, parseErr = parseTime(executedAt, "executed_at"); parseErr != nil {
		return nil, parseErr
	}
	if exec.CreatedAt, parseErr = parseTime(createdAt, "created_at"); parseErr != nil {
		return nil, parseErr
	}

	return &exec, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func parseTime(s, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString, field string) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

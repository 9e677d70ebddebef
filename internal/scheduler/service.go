package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vesperbase/vesper/internal/database"
)

const (
	defaultMaxRetries     = 3
	defaultPermissionMode = "auto"
	defaultThinkingMode   = "ultra"
)

// Service orchestrates task CRUD, quota enforcement and enable/disable
// transitions.
type Service struct {
	db       *database.DB
	store    *Store
	maxTasks int
	now      func() time.Time
}

// NewService creates a new scheduler service. maxTasks caps the number of
// enabled active/pending tasks per user.
func NewService(db *database.DB, maxTasks int) *Service {
	return &Service{
		db:       db,
		store:    NewStore(db),
		maxTasks: maxTasks,
		now:      time.Now,
	}
}

// Create validates and persists a new task. The initial next_execution is
// computed with the immediate-once rule so a Once task gets its single run.
func (s *Service) Create(ctx context.Context, userID string, spec TaskSpec) (*ScheduledTask, error) {
	count, err := s.store.CountActive(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if count >= s.maxTasks {
		return nil, fmt.Errorf("%w: maximum number of active tasks (%d) reached, please delete or disable an existing task",
			ErrQuotaExceeded, s.maxTasks)
	}

	if err := ValidateRecurrence(spec.Recurrence, spec.ScheduledDay); err != nil {
		return nil, err
	}

	next, ok, err := NextExecution(spec.Recurrence, spec.ScheduledTime, spec.ScheduledDay, s.now().UTC(), true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, validationErrorf("could not calculate next execution for %s", spec.Recurrence)
	}

	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	task := &ScheduledTask{
		UserID:         userID,
		TaskName:       spec.TaskName,
		PromptMessage:  spec.PromptMessage,
		Recurrence:     spec.Recurrence,
		ScheduledTime:  spec.ScheduledTime,
		ScheduledDay:   spec.ScheduledDay,
		NextExecution:  &next,
		Status:         TaskStatusActive,
		Enabled:        true,
		MaxRetries:     maxRetries,
		ModelID:        spec.ModelID,
		PermissionMode: defaultPermissionMode,
		ThinkingMode:   defaultThinkingMode,
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	log.Info().
		Str("task_id", task.ID).
		Str("user_id", userID).
		Str("schedule", DescribeRecurrence(task.Recurrence, task.ScheduledTime, task.ScheduledDay)).
		Time("next_execution", next).
		Msg("Scheduled task created")

	return task, nil
}

// Get retrieves a task scoped to its owner.
func (s *Service) Get(ctx context.Context, taskID, userID string) (*ScheduledTask, error) {
	return s.store.GetTask(ctx, taskID, userID)
}

// List returns the user's tasks ordered by next execution, nulls last.
func (s *Service) List(ctx context.Context, userID string) ([]*ScheduledTask, error) {
	return s.store.ListTasks(ctx, userID)
}

// Update applies a partial update. Recurrence, time, or day changes
// revalidate and recompute next_execution unconditionally. An explicit
// enabled flag is handled after all field updates: enabling re-checks quota
// and validation unless the task was already enabled; disabling pauses the
// task and leaves next_execution untouched.
func (s *Service) Update(ctx context.Context, taskID, userID string, patch TaskPatch) (*ScheduledTask, error) {
	var updated *ScheduledTask

	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		st := s.store.WithTx(tx)

		task, err := st.GetTask(ctx, taskID, userID)
		if err != nil {
			return err
		}

		var recurrenceChanged, timeChanged, dayChanged bool

		if patch.TaskName != nil {
			task.TaskName = *patch.TaskName
		}
		if patch.PromptMessage != nil {
			task.PromptMessage = *patch.PromptMessage
		}
		if patch.ModelID != nil {
			task.ModelID = *patch.ModelID
		}
		if patch.Recurrence != nil {
			task.Recurrence = *patch.Recurrence
			recurrenceChanged = true
		}
		if patch.ScheduledTime != nil {
			task.ScheduledTime = *patch.ScheduledTime
			timeChanged = true
		}
		if patch.ScheduledDay != nil {
			task.ScheduledDay = patch.ScheduledDay
			dayChanged = true
		}

		scheduleChanged := recurrenceChanged || timeChanged || dayChanged

		if scheduleChanged {
			if err := ValidateRecurrence(task.Recurrence, task.ScheduledDay); err != nil {
				return err
			}
			next, ok, err := NextExecution(task.Recurrence, task.ScheduledTime, task.ScheduledDay, s.now().UTC(), true)
			if err != nil {
				return err
			}
			if !ok {
				return validationErrorf("could not calculate next execution for %s", task.Recurrence)
			}
			task.NextExecution = &next
		}

		if patch.Enabled != nil {
			if *patch.Enabled {
				if err := s.enableTask(ctx, st, task, scheduleChanged, task.Enabled); err != nil {
					return err
				}
			} else {
				task.Enabled = false
				task.Status = TaskStatusPaused
			}
		}

		if err := st.UpdateTask(ctx, task); err != nil {
			return err
		}

		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Toggle flips the enabled flag. Enabling always recomputes next_execution;
// disabling pauses the task.
func (s *Service) Toggle(ctx context.Context, taskID, userID string) (*ToggleResult, error) {
	var result *ToggleResult

	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		st := s.store.WithTx(tx)

		task, err := st.GetTask(ctx, taskID, userID)
		if err != nil {
			return err
		}

		if !task.Enabled {
			if err := s.enableTask(ctx, st, task, true, false); err != nil {
				return err
			}
		} else {
			task.Enabled = false
			task.Status = TaskStatusPaused
		}

		if err := st.UpdateTask(ctx, task); err != nil {
			return err
		}

		message := "Task disabled successfully"
		if task.Enabled {
			message = "Task enabled successfully"
		}
		result = &ToggleResult{ID: task.ID, Enabled: task.Enabled, Message: message}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete removes a task and its execution history.
func (s *Service) Delete(ctx context.Context, taskID, userID string) error {
	if err := s.store.DeleteTask(ctx, taskID, userID); err != nil {
		return err
	}

	log.Info().Str("task_id", taskID).Str("user_id", userID).Msg("Scheduled task deleted")
	return nil
}

// ExecutionHistory returns one page of a task's run history, newest first.
func (s *Service) ExecutionHistory(ctx context.Context, taskID, userID string, page, perPage int) (*ExecutionPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	// Ownership check first so a foreign task never leaks its history.
	if _, err := s.store.GetTask(ctx, taskID, userID); err != nil {
		return nil, err
	}

	items, total, err := s.store.ExecutionHistory(ctx, taskID, page, perPage)
	if err != nil {
		return nil, err
	}

	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}

	return &ExecutionPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
	}, nil
}

// enableTask transitions a task to enabled/active. Quota and recurrence
// validation are skipped when the task was already enabled, so unrelated
// field edits don't re-check quota. next_execution is recomputed when it is
// missing or when the schedule changed in the same call.
func (s *Service) enableTask(ctx context.Context, st *Store, task *ScheduledTask, scheduleChanged, skipValidation bool) error {
	if !skipValidation {
		if err := ValidateRecurrence(task.Recurrence, task.ScheduledDay); err != nil {
			return err
		}

		count, err := st.CountActive(ctx, task.UserID, task.ID)
		if err != nil {
			return err
		}
		if count >= s.maxTasks {
			return fmt.Errorf("%w: maximum number of active tasks (%d) reached, please disable another task first",
				ErrQuotaExceeded, s.maxTasks)
		}
	}

	task.Enabled = true
	task.Status = TaskStatusActive
	task.LastError = nil

	if task.NextExecution == nil || scheduleChanged {
		next, ok, err := NextExecution(task.Recurrence, task.ScheduledTime, task.ScheduledDay, s.now().UTC(), true)
		if err != nil {
			return err
		}
		if !ok {
			return validationErrorf("could not calculate next execution for %s", task.Recurrence)
		}
		task.NextExecution = &next
	}

	return nil
}

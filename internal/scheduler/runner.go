package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/vesperbase/vesper/internal/database"
	"github.com/vesperbase/vesper/internal/metrics"
)

// RunOutcome carries what an executor produced for a single task run.
type RunOutcome struct {
	ChatID    string
	MessageID string
	Result    json.RawMessage
}

// TaskExecutor runs the prompt of a due task. Implementations are expected
// to honor ctx cancellation.
type TaskExecutor interface {
	Execute(ctx context.Context, task *ScheduledTask) (*RunOutcome, error)
}

// RunnerConfig holds configuration for Runner.
type RunnerConfig struct {
	// Beat is a standard cron expression controlling how often due tasks
	// are picked up (default: every 2 minutes).
	Beat string
	// DuplicateWindow suppresses a run when the task already started one
	// within this window (default: 2 minutes).
	DuplicateWindow time.Duration
	// BatchSize caps how many due tasks one beat processes (default: 100).
	BatchSize int
}

// Runner polls for due tasks on a cron beat and executes them.
type Runner struct {
	db       *database.DB
	store    *Store
	executor TaskExecutor
	schedule cron.Schedule
	config   RunnerConfig
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewRunner creates a new task runner. The beat expression is parsed with
// standard five-field cron syntax.
func NewRunner(db *database.DB, executor TaskExecutor, config RunnerConfig) (*Runner, error) {
	if config.Beat == "" {
		config.Beat = "*/2 * * * *"
	}
	if config.DuplicateWindow <= 0 {
		config.DuplicateWindow = 2 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	schedule, err := cron.ParseStandard(config.Beat)
	if err != nil {
		return nil, fmt.Errorf("parsing beat expression: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		db:       db,
		store:    NewStore(db),
		executor: executor,
		schedule: schedule,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}, nil
}

// Start begins background processing.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.beatLoop(r.ctx)

	log.Info().
		Str("beat", r.config.Beat).
		Dur("duplicate_window", r.config.DuplicateWindow).
		Msg("Task runner started")
}

// Stop gracefully shuts down the runner, waiting for in-flight runs.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	log.Info().Msg("Task runner stopped")
}

// beatLoop sleeps until the next beat and processes due tasks.
func (r *Runner) beatLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.ProcessDue(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process due tasks")
			}
		}
	}
}

// ProcessDue runs every task whose next_execution has passed. Per-task
// failures are recorded and logged, never propagated, so one bad task cannot
// starve the rest of the batch.
func (r *Runner) ProcessDue(ctx context.Context) error {
	now := r.now().UTC()

	tasks, err := r.store.DueTasks(ctx, now, r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("getting due tasks: %w", err)
	}

	metrics.UpdateDueBacklog(len(tasks))
	if len(tasks) == 0 {
		return nil
	}

	log.Debug().Int("count", len(tasks)).Msg("Processing due tasks")

	for _, task := range tasks {
		if err := r.runTask(ctx, task); err != nil {
			log.Error().
				Err(err).
				Str("task_id", task.ID).
				Str("task_name", task.TaskName).
				Msg("Failed to run task")
		}
	}

	return nil
}

// runTask executes a single due task and advances its schedule.
func (r *Runner) runTask(ctx context.Context, task *ScheduledTask) error {
	startedAt := r.now().UTC()

	recent, err := r.store.HasRecentExecution(ctx, task.ID, startedAt.Add(-r.config.DuplicateWindow))
	if err != nil {
		return fmt.Errorf("checking recent executions: %w", err)
	}
	if recent {
		metrics.RecordDuplicateSkip()
		log.Warn().
			Str("task_id", task.ID).
			Str("task_name", task.TaskName).
			Msg("Skipping task, executed within duplicate window")
		return nil
	}

	execution := &TaskExecution{
		TaskID:     task.ID,
		ExecutedAt: startedAt,
		Status:     ExecutionStatusRunning,
	}
	if err := r.store.CreateExecution(ctx, execution); err != nil {
		return fmt.Errorf("creating execution record: %w", err)
	}

	outcome, runErr := r.execute(ctx, task)

	completedAt := r.now().UTC()
	execution.CompletedAt = &completedAt
	execution.DurationMs = completedAt.Sub(startedAt).Milliseconds()

	var errMsg string
	if runErr != nil {
		execution.Status = ExecutionStatusFailed
		errMsg = runErr.Error()
		execution.ErrorMessage = errMsg
	} else {
		execution.Status = ExecutionStatusSuccess
		if outcome != nil {
			execution.ChatID = outcome.ChatID
			execution.MessageID = outcome.MessageID
			execution.Result = outcome.Result
		}
	}

	if err := r.store.FinalizeExecution(ctx, execution); err != nil {
		return fmt.Errorf("finalizing execution record: %w", err)
	}

	metrics.RecordTaskRun(string(task.Recurrence), string(execution.Status), completedAt.Sub(startedAt))

	var next *time.Time
	nextTime, ok, calcErr := NextExecution(task.Recurrence, task.ScheduledTime, task.ScheduledDay, startedAt, false)
	if calcErr != nil {
		log.Error().
			Err(calcErr).
			Str("task_id", task.ID).
			Msg("Failed to calculate next execution, task will be completed")
	} else if ok {
		next = &nextTime
	}

	if err := r.store.ApplyRunResult(ctx, task.ID, startedAt, runErr == nil, errMsg, next); err != nil {
		return fmt.Errorf("applying run result: %w", err)
	}

	logEvent := log.Info()
	if runErr != nil {
		logEvent = log.Error().Err(runErr)
	}
	logEvent.
		Str("task_id", task.ID).
		Str("task_name", task.TaskName).
		Str("status", string(execution.Status)).
		Int64("duration_ms", execution.DurationMs).
		Msg("Task run finished")

	return nil
}

// execute invokes the executor with panic containment so a misbehaving
// executor is recorded as a failed run.
func (r *Runner) execute(ctx context.Context, task *ScheduledTask) (outcome *RunOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome = nil
			err = fmt.Errorf("task executor panicked: %v", p)
		}
	}()

	return r.executor.Execute(ctx, task)
}

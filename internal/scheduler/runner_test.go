package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesperbase/vesper/internal/database"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	err     error
	panics  bool
}

func (f *fakeExecutor) Execute(ctx context.Context, task *ScheduledTask) (*RunOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, task.ID)
	f.mu.Unlock()

	if f.panics {
		panic("executor went sideways")
	}
	if f.err != nil {
		return nil, f.err
	}

	return &RunOutcome{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		Result:    json.RawMessage(`{"summary":"done"}`),
	}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testRunner(t *testing.T, db *database.DB, executor TaskExecutor) *Runner {
	t.Helper()

	runner, err := NewRunner(db, executor, RunnerConfig{
		DuplicateWindow: 2 * time.Minute,
	})
	require.NoError(t, err)

	runner.now = func() time.Time { return testNow }
	return runner
}

// dueTask creates an enabled daily task whose next_execution is already in
// the past relative to testNow.
func dueTask(t *testing.T, db *database.DB, userID string) *ScheduledTask {
	t.Helper()

	store := NewStore(db)
	due := testNow.Add(-time.Minute)
	task := &ScheduledTask{
		UserID:        userID,
		TaskName:      "digest",
		PromptMessage: "summarize my inbox",
		Recurrence:    RecurrenceDaily,
		ScheduledTime: "09:30",
		NextExecution: &due,
		Status:        TaskStatusActive,
		Enabled:       true,
		MaxRetries:    3,
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func TestRunnerProcessDue_Success(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	task := dueTask(t, db, "user-1")

	require.NoError(t, runner.ProcessDue(ctx))
	require.Equal(t, 1, executor.callCount())

	store := NewStore(db)
	stored, err := store.GetTask(ctx, task.ID, "user-1")
	require.NoError(t, err)

	require.Equal(t, 1, stored.ExecutionCount)
	require.Equal(t, 0, stored.FailureCount)
	require.Nil(t, stored.LastError)
	require.NotNil(t, stored.LastExecution)
	require.Equal(t, testNow, stored.LastExecution.UTC())

	// Daily task advances to the next day's slot.
	require.NotNil(t, stored.NextExecution)
	require.Equal(t, time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC), stored.NextExecution.UTC())

	execs, total, err := store.ExecutionHistory(ctx, task.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, ExecutionStatusSuccess, execs[0].Status)
	require.Equal(t, "chat-1", execs[0].ChatID)
	require.Equal(t, "msg-1", execs[0].MessageID)
	require.JSONEq(t, `{"summary":"done"}`, string(execs[0].Result))
	require.NotNil(t, execs[0].CompletedAt)
}

func TestRunnerProcessDue_Failure(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{err: errors.New("agent unavailable")}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	task := dueTask(t, db, "user-1")

	require.NoError(t, runner.ProcessDue(ctx))

	store := NewStore(db)
	stored, err := store.GetTask(ctx, task.ID, "user-1")
	require.NoError(t, err)

	require.Equal(t, 0, stored.ExecutionCount)
	require.Equal(t, 1, stored.FailureCount)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "agent unavailable", *stored.LastError)
	// A failure still advances the schedule.
	require.NotNil(t, stored.NextExecution)
	require.True(t, stored.Enabled)

	execs, _, err := store.ExecutionHistory(ctx, task.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, execs[0].Status)
	require.Equal(t, "agent unavailable", execs[0].ErrorMessage)
}

func TestRunnerProcessDue_PanicRecorded(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{panics: true}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	task := dueTask(t, db, "user-1")

	require.NoError(t, runner.ProcessDue(ctx))

	store := NewStore(db)
	stored, err := store.GetTask(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.FailureCount)
	require.NotNil(t, stored.LastError)
	require.Contains(t, *stored.LastError, "panicked")
}

func TestRunnerProcessDue_OnceCompletes(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	store := NewStore(db)
	due := testNow.Add(-time.Minute)
	task := &ScheduledTask{
		UserID:        "user-1",
		TaskName:      "one off",
		PromptMessage: "remind me",
		Recurrence:    RecurrenceOnce,
		ScheduledTime: "09:30",
		NextExecution: &due,
		Status:        TaskStatusActive,
		Enabled:       true,
		MaxRetries:    3,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	require.NoError(t, runner.ProcessDue(ctx))
	require.Equal(t, 1, executor.callCount())

	stored, err := store.GetTask(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Nil(t, stored.NextExecution)
	require.False(t, stored.Enabled)
	require.Equal(t, TaskStatusCompleted, stored.Status)

	// An exhausted task never comes due again.
	require.NoError(t, runner.ProcessDue(ctx))
	require.Equal(t, 1, executor.callCount())
}

func TestRunnerProcessDue_DuplicateWindow(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	task := dueTask(t, db, "user-1")

	store := NewStore(db)
	recent := &TaskExecution{
		TaskID:     task.ID,
		ExecutedAt: testNow.Add(-30 * time.Second),
		Status:     ExecutionStatusSuccess,
	}
	require.NoError(t, store.CreateExecution(ctx, recent))

	require.NoError(t, runner.ProcessDue(ctx))
	require.Equal(t, 0, executor.callCount())

	// The schedule did not advance, the task stays due.
	stored, err := store.GetTask(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, task.NextExecution.UTC(), stored.NextExecution.UTC())
}

func TestRunnerProcessDue_OldExecutionDoesNotSuppress(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	task := dueTask(t, db, "user-1")

	store := NewStore(db)
	old := &TaskExecution{
		TaskID:     task.ID,
		ExecutedAt: testNow.Add(-10 * time.Minute),
		Status:     ExecutionStatusSuccess,
	}
	require.NoError(t, store.CreateExecution(ctx, old))

	require.NoError(t, runner.ProcessDue(ctx))
	require.Equal(t, 1, executor.callCount())
}

func TestRunnerProcessDue_SkipsDisabledAndFuture(t *testing.T) {
	db := testDB(t)
	executor := &fakeExecutor{}
	runner := testRunner(t, db, executor)
	ctx := context.Background()

	store := NewStore(db)

	future := testNow.Add(time.Hour)
	notDue := &ScheduledTask{
		UserID: "user-1", TaskName: "later", PromptMessage: "x",
		Recurrence: RecurrenceDaily, ScheduledTime: "09:30",
		NextExecution: &future, Status: TaskStatusActive, Enabled: true, MaxRetries: 3,
	}
	require.NoError(t, store.CreateTask(ctx, notDue))

	past := testNow.Add(-time.Minute)
	disabled := &ScheduledTask{
		UserID: "user-1", TaskName: "paused", PromptMessage: "x",
		Recurrence: RecurrenceDaily, ScheduledTime: "09:30",
		NextExecution: &past, Status: TaskStatusPaused, Enabled: false, MaxRetries: 3,
	}
	require.NoError(t, store.CreateTask(ctx, disabled))

	require.NoError(t, runner.ProcessDue(ctx))
	require.Equal(t, 0, executor.callCount())
}

func TestRunnerStartStop(t *testing.T) {
	db := testDB(t)
	runner, err := NewRunner(db, &fakeExecutor{}, RunnerConfig{Beat: "* * * * *"})
	require.NoError(t, err)

	runner.Start()
	runner.Stop()
}

func TestNewRunner_InvalidBeat(t *testing.T) {
	db := testDB(t)
	_, err := NewRunner(db, &fakeExecutor{}, RunnerConfig{Beat: "not a cron"})
	require.Error(t, err)
}

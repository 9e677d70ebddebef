package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesperbase/vesper/internal/config"
	"github.com/vesperbase/vesper/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path: dbPath,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testNow is a Wednesday morning, before the default 09:30 test slot.
var testNow = time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)

func testService(t *testing.T, db *database.DB, maxTasks int) *Service {
	t.Helper()

	svc := NewService(db, maxTasks)
	svc.now = func() time.Time { return testNow }
	return svc
}

func dailySpec(name string) TaskSpec {
	return TaskSpec{
		TaskName:      name,
		PromptMessage: "summarize my inbox",
		Recurrence:    RecurrenceDaily,
		ScheduledTime: "09:30",
	}
}

func TestServiceCreate(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("morning digest"))
	require.NoError(t, err)

	require.NotEmpty(t, task.ID)
	require.Equal(t, "user-1", task.UserID)
	require.Equal(t, TaskStatusActive, task.Status)
	require.True(t, task.Enabled)
	require.Equal(t, 3, task.MaxRetries)
	require.Equal(t, "auto", task.PermissionMode)
	require.Equal(t, "ultra", task.ThinkingMode)

	require.NotNil(t, task.NextExecution)
	require.Equal(t, time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC), task.NextExecution.UTC())

	stored, err := svc.Get(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, task.TaskName, stored.TaskName)
	require.NotNil(t, stored.NextExecution)
}

func TestServiceCreate_OnceGetsImmediateRun(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)

	task, err := svc.Create(context.Background(), "user-1", TaskSpec{
		TaskName:      "one off",
		PromptMessage: "remind me",
		Recurrence:    RecurrenceOnce,
		ScheduledTime: "09:30",
	})
	require.NoError(t, err)
	require.NotNil(t, task.NextExecution)
	require.Equal(t, time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC), task.NextExecution.UTC())
}

func TestServiceCreate_InvalidRecurrence(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)

	_, err := svc.Create(context.Background(), "user-1", TaskSpec{
		TaskName:      "broken",
		PromptMessage: "x",
		Recurrence:    RecurrenceWeekly,
		ScheduledTime: "09:30",
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestServiceCreate_Quota(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, "user-1", dailySpec("task"))
		require.NoError(t, err)
	}

	_, err := svc.Create(ctx, "user-1", dailySpec("one too many"))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// Quota is per user.
	_, err = svc.Create(ctx, "user-2", dailySpec("other user"))
	require.NoError(t, err)
}

func TestServiceGet_OwnerScoped(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("mine"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, task.ID, "user-2")
	require.ErrorIs(t, err, ErrTaskNotFound)

	_, err = svc.Get(ctx, "no-such-task", "user-1")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestServiceList_OrdersByNextExecution(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	later, err := svc.Create(ctx, "user-1", TaskSpec{
		TaskName:      "evening",
		PromptMessage: "x",
		Recurrence:    RecurrenceDaily,
		ScheduledTime: "20:00",
	})
	require.NoError(t, err)

	sooner, err := svc.Create(ctx, "user-1", dailySpec("morning"))
	require.NoError(t, err)

	tasks, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, sooner.ID, tasks[0].ID)
	require.Equal(t, later.ID, tasks[1].ID)
}

func TestServiceUpdate_RecomputesOnScheduleChange(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("digest"))
	require.NoError(t, err)

	// A name-only patch leaves next_execution alone.
	newName := "renamed digest"
	updated, err := svc.Update(ctx, task.ID, "user-1", TaskPatch{TaskName: &newName})
	require.NoError(t, err)
	require.Equal(t, newName, updated.TaskName)
	require.Equal(t, task.NextExecution.UTC(), updated.NextExecution.UTC())

	// Changing the time recomputes.
	newTime := "07:00"
	updated, err = svc.Update(ctx, task.ID, "user-1", TaskPatch{ScheduledTime: &newTime})
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 12, 7, 0, 0, 0, time.UTC), updated.NextExecution.UTC())

	// Switching to weekly without a day fails validation.
	weekly := RecurrenceWeekly
	_, err = svc.Update(ctx, task.ID, "user-1", TaskPatch{Recurrence: &weekly})
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	day := 4
	updated, err = svc.Update(ctx, task.ID, "user-1", TaskPatch{Recurrence: &weekly, ScheduledDay: &day})
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 13, 7, 0, 0, 0, time.UTC), updated.NextExecution.UTC())
}

func TestServiceUpdate_DisableAndEnable(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("digest"))
	require.NoError(t, err)

	off := false
	updated, err := svc.Update(ctx, task.ID, "user-1", TaskPatch{Enabled: &off})
	require.NoError(t, err)
	require.False(t, updated.Enabled)
	require.Equal(t, TaskStatusPaused, updated.Status)
	// Disabling keeps next_execution for later re-enable.
	require.NotNil(t, updated.NextExecution)

	on := true
	updated, err = svc.Update(ctx, task.ID, "user-1", TaskPatch{Enabled: &on})
	require.NoError(t, err)
	require.True(t, updated.Enabled)
	require.Equal(t, TaskStatusActive, updated.Status)
}

func TestServiceUpdate_EnableRespectsQuota(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 2)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user-1", dailySpec("first"))
	require.NoError(t, err)

	off := false
	_, err = svc.Update(ctx, first.ID, "user-1", TaskPatch{Enabled: &off})
	require.NoError(t, err)

	// Quota freed up, two more fit.
	_, err = svc.Create(ctx, "user-1", dailySpec("second"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "user-1", dailySpec("third"))
	require.NoError(t, err)

	on := true
	_, err = svc.Update(ctx, first.ID, "user-1", TaskPatch{Enabled: &on})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestServiceToggle(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("digest"))
	require.NoError(t, err)

	result, err := svc.Toggle(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.False(t, result.Enabled)
	require.Equal(t, "Task disabled successfully", result.Message)

	stored, err := svc.Get(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, TaskStatusPaused, stored.Status)

	result, err = svc.Toggle(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.True(t, result.Enabled)
	require.Equal(t, "Task enabled successfully", result.Message)

	stored, err = svc.Get(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, TaskStatusActive, stored.Status)
	require.NotNil(t, stored.NextExecution)

	_, err = svc.Toggle(ctx, task.ID, "user-2")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestServiceToggle_EnableClearsLastError(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("digest"))
	require.NoError(t, err)

	// Simulate a failed run followed by a pause.
	store := NewStore(db)
	errMsg := "agent unavailable"
	task.LastError = &errMsg
	task.Enabled = false
	task.Status = TaskStatusPaused
	require.NoError(t, store.UpdateTask(ctx, task))

	result, err := svc.Toggle(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.True(t, result.Enabled)

	stored, err := svc.Get(ctx, task.ID, "user-1")
	require.NoError(t, err)
	require.Nil(t, stored.LastError)
}

func TestServiceDelete(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("digest"))
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, task.ID, "user-2"), ErrTaskNotFound)
	require.NoError(t, svc.Delete(ctx, task.ID, "user-1"))

	_, err = svc.Get(ctx, task.ID, "user-1")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestServiceExecutionHistory(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db, 10)
	store := NewStore(db)
	ctx := context.Background()

	task, err := svc.Create(ctx, "user-1", dailySpec("digest"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		exec := &TaskExecution{
			TaskID:     task.ID,
			ExecutedAt: testNow.Add(time.Duration(i) * time.Hour),
			Status:     ExecutionStatusSuccess,
		}
		require.NoError(t, store.CreateExecution(ctx, exec))
	}

	page, err := svc.ExecutionHistory(ctx, task.ID, "user-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, 5, page.Total)
	require.Equal(t, 3, page.Pages)

	// Newest first.
	require.True(t, page.Items[0].ExecutedAt.After(page.Items[1].ExecutedAt))

	last, err := svc.ExecutionHistory(ctx, task.ID, "user-1", 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Items, 1)

	_, err = svc.ExecutionHistory(ctx, task.ID, "user-2", 1, 2)
	require.True(t, errors.Is(err, ErrTaskNotFound))
}

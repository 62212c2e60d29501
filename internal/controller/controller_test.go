package controller_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dhima/cronback-scheduler/internal/activemap"
	"github.com/dhima/cronback-scheduler/internal/controller"
	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/dispatch"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/testutil/fakes"
	"github.com/dhima/cronback-scheduler/internal/validator"
	"github.com/dhima/cronback-scheduler/pkg/clock"
	"github.com/dhima/cronback-scheduler/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) (*controller.Controller, *fakes.TriggerStore, *fakes.RunStore) {
	t.Helper()
	triggers := fakes.NewTriggerStore()
	runs := fakes.NewRunStore()
	active := activemap.New(clock.RealClock{}.Now)
	v := validator.New(true)
	manager := dispatch.NewManager(runs, runs, v, logging.NewNoOpLogger())
	cfg := config.App{
		SpinnerYieldMaxMs:  50,
		MaxTriggersPerTick: 100,
		CheckpointInterval: time.Hour,
		ShutdownGrace:      time.Second,
	}
	c := controller.New(triggers, runs, runs, active, manager, v, clock.RealClock{}, cfg, logging.NewNoOpLogger())
	return c, triggers, runs
}

func recurringTrigger(project, name string) *model.Trigger {
	return &model.Trigger{
		ProjectID: project,
		Name:      name,
		Action: model.Action{
			Kind:    model.ActionWebhook,
			URL:     "https://example.com/hook",
			Method:  model.MethodPOST,
			Timeout: 5 * time.Second,
			Retry:   model.RetryPolicy{Kind: model.RetryNone, MaxNumAttempts: 1},
		},
		Schedule: &model.Schedule{Kind: model.ScheduleRecurring, Cron: "0 * * * * *", Timezone: "Etc/UTC"},
	}
}

func TestUpsertTrigger_WhenNew_ThenCreatesScheduledAndActive(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	created, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusScheduled, created.Status)

	fetched, err := c.GetTrigger(ctx, "p1", "daily")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestUpsertTrigger_WhenExisting_ThenReplacesAndPreservesCreatedAt(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	first, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)

	second := recurringTrigger("p1", "daily")
	second.Description = "updated"
	updated, _, err := c.UpsertTrigger(ctx, second, controller.AllowExisting)
	require.NoError(t, err)

	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, first.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "updated", updated.Description)
	require.NotNil(t, updated.UpdatedAt)
}

func TestUpsertTrigger_WhenMustNotExistAndNameTaken_ThenAlreadyExists(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	first, effect, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.MustNotExist)
	require.NoError(t, err)
	assert.Equal(t, controller.EffectCreated, effect)
	assert.NotEmpty(t, first.ID)

	_, _, err = c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.MustNotExist)
	require.Error(t, err)
	var exists *core.AlreadyExistsError
	assert.ErrorAs(t, err, &exists)
}

func TestUpsertTrigger_WhenCronInvalid_ThenNothingPersisted(t *testing.T) {
	c, triggers, _ := newTestController(t)
	ctx := context.Background()

	bad := recurringTrigger("p1", "broken")
	bad.Schedule.Cron = "not a cron"
	_, _, err := c.UpsertTrigger(ctx, bad, controller.AllowExisting)
	require.Error(t, err)
	var invalidArg *core.InvalidArgumentError
	assert.ErrorAs(t, err, &invalidArg)

	_, err = triggers.GetByName(ctx, "p1", "broken")
	assert.Error(t, err, "a trigger rejected at upsert time must not reach the store")
}

func TestUpsertTrigger_WhenOnlyActionChanged_ThenKeepsOverdueFiring(t *testing.T) {
	triggers := fakes.NewTriggerStore()
	runs := fakes.NewRunStore()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	active := activemap.New(clock.NewFixed(now).Now)
	v := validator.New(true)
	manager := dispatch.NewManager(runs, runs, v, logging.NewNoOpLogger())
	cfg := config.App{CheckpointInterval: time.Hour, ShutdownGrace: time.Second}
	c := controller.New(triggers, runs, runs, active, manager, v, clock.NewFixed(now), cfg, logging.NewNoOpLogger())
	ctx := context.Background()

	// One timepoint already overdue (after last_ran_at, before now), one
	// in the future.
	lastRan := now.Add(-2 * time.Hour)
	overdue := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)
	stored := &model.Trigger{
		ID:        core.NewTriggerID("p1"),
		ProjectID: "p1",
		Name:      "runat",
		CreatedAt: lastRan,
		Status:    model.StatusScheduled,
		LastRanAt: &lastRan,
		Action: model.Action{
			Kind: model.ActionWebhook, URL: "https://example.com/hook", Method: model.MethodPOST,
			Timeout: 5 * time.Second, Retry: model.RetryPolicy{Kind: model.RetryNone, MaxNumAttempts: 1},
		},
		Schedule: &model.Schedule{Kind: model.ScheduleRunAt, Timepoints: []time.Time{overdue, future}},
	}
	require.NoError(t, triggers.Insert(ctx, stored))

	// Edit an unrelated field, same schedule: the overdue firing survives.
	edited := &model.Trigger{
		ProjectID: "p1",
		Name:      "runat",
		Action:    stored.Action,
		Schedule:  &model.Schedule{Kind: model.ScheduleRunAt, Timepoints: []time.Time{overdue, future}},
	}
	edited.Action.Timeout = 10 * time.Second
	_, effect, err := c.UpsertTrigger(ctx, edited, controller.AllowExisting)
	require.NoError(t, err)
	assert.Equal(t, controller.EffectModified, effect)

	next, ok := active.Advance(stored.ID)
	require.True(t, ok, "overdue timepoint should still be pending")
	assert.Equal(t, future, next)
}

func TestUpsertTrigger_WhenScheduleChanged_ThenFastForwardsPastHistory(t *testing.T) {
	triggers := fakes.NewTriggerStore()
	runs := fakes.NewRunStore()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	active := activemap.New(clock.NewFixed(now).Now)
	v := validator.New(true)
	manager := dispatch.NewManager(runs, runs, v, logging.NewNoOpLogger())
	cfg := config.App{CheckpointInterval: time.Hour, ShutdownGrace: time.Second}
	c := controller.New(triggers, runs, runs, active, manager, v, clock.NewFixed(now), cfg, logging.NewNoOpLogger())
	ctx := context.Background()

	lastRan := now.Add(-2 * time.Hour)
	overdue := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)
	stored := &model.Trigger{
		ID:        core.NewTriggerID("p1"),
		ProjectID: "p1",
		Name:      "runat",
		CreatedAt: lastRan,
		Status:    model.StatusScheduled,
		LastRanAt: &lastRan,
		Action: model.Action{
			Kind: model.ActionWebhook, URL: "https://example.com/hook", Method: model.MethodPOST,
			Timeout: 5 * time.Second, Retry: model.RetryPolicy{Kind: model.RetryNone, MaxNumAttempts: 1},
		},
		Schedule: &model.Schedule{Kind: model.ScheduleRunAt, Timepoints: []time.Time{overdue, future}},
	}
	require.NoError(t, triggers.Insert(ctx, stored))

	// New timepoint set: the iterator fast-forwards, so the overdue
	// instant is discarded and only the future one remains.
	later := now.Add(2 * time.Hour)
	edited := &model.Trigger{
		ProjectID: "p1",
		Name:      "runat",
		Action:    stored.Action,
		Schedule:  &model.Schedule{Kind: model.ScheduleRunAt, Timepoints: []time.Time{overdue, later}},
	}
	_, _, err := c.UpsertTrigger(ctx, edited, controller.AllowExisting)
	require.NoError(t, err)

	// Only the future timepoint survived: advancing consumes it and
	// exhausts the iterator. Had the overdue instant been kept, the
	// later one would still be pending.
	_, ok := active.Advance(stored.ID)
	assert.False(t, ok)
}

func TestPauseThenResume_TransitionsStatusAndPersists(t *testing.T) {
	c, triggers, _ := newTestController(t)
	ctx := context.Background()

	_, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)

	require.NoError(t, c.PauseTrigger(ctx, "p1", "daily"))
	paused, err := triggers.GetByName(ctx, "p1", "daily")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, paused.Status)

	require.NoError(t, c.ResumeTrigger(ctx, "p1", "daily"))
	resumed, err := triggers.GetByName(ctx, "p1", "daily")
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, resumed.Status)
}

func TestCancelTrigger_MarksTerminalAndEvictsFromActiveMap(t *testing.T) {
	c, triggers, _ := newTestController(t)
	ctx := context.Background()

	_, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)

	require.NoError(t, c.CancelTrigger(ctx, "p1", "daily"))

	cancelled, err := triggers.GetByName(ctx, "p1", "daily")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	// A second cancel must fail: the map entry is gone and the trigger is terminal.
	err = c.CancelTrigger(ctx, "p1", "daily")
	assert.Error(t, err)
}

func TestRunTrigger_DispatchesSynchronouslyAndReturnsTerminalRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, _, _ := newTestController(t)
	ctx := context.Background()

	trigger := recurringTrigger("p1", "on-demand")
	trigger.Action.URL = server.URL
	trigger.Schedule = nil
	_, _, err := c.UpsertTrigger(ctx, trigger, controller.AllowExisting)
	require.NoError(t, err)

	run, err := c.RunTrigger(ctx, "p1", "on-demand", dispatch.Sync)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.Status)
}

func TestCancelTrigger_OnDemand_GoesThroughStoreDirectly(t *testing.T) {
	c, triggers, _ := newTestController(t)
	ctx := context.Background()

	onDemand := recurringTrigger("p1", "manual")
	onDemand.Schedule = nil
	created, _, err := c.UpsertTrigger(ctx, onDemand, controller.AllowExisting)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnDemand, created.Status)

	require.NoError(t, c.CancelTrigger(ctx, "p1", "manual"))

	cancelled, err := triggers.GetByName(ctx, "p1", "manual")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
}

func TestRunTrigger_WhenCancelled_ThenInvalidStatus(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	_, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)
	require.NoError(t, c.CancelTrigger(ctx, "p1", "daily"))

	_, err = c.RunTrigger(ctx, "p1", "daily", dispatch.Sync)
	require.Error(t, err)
	var invalidStatus *core.InvalidStatusError
	require.ErrorAs(t, err, &invalidStatus)
	assert.Equal(t, "run", invalidStatus.Op)
}

func TestDeleteTrigger_RemovesFromStoreAndActiveMap(t *testing.T) {
	c, triggers, _ := newTestController(t)
	ctx := context.Background()

	_, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)

	require.NoError(t, c.DeleteTrigger(ctx, "p1", "daily"))
	_, err = triggers.GetByName(ctx, "p1", "daily")
	assert.Error(t, err)
}

func TestPerformCheckpoint_FlushesAwaitingEntries(t *testing.T) {
	c, triggers, _ := newTestController(t)
	ctx := context.Background()

	_, _, err := c.UpsertTrigger(ctx, recurringTrigger("p1", "daily"), controller.AllowExisting)
	require.NoError(t, err)
	require.NoError(t, c.PauseTrigger(ctx, "p1", "daily"))

	require.NoError(t, c.PerformCheckpoint(ctx))

	persisted, err := triggers.GetByName(ctx, "p1", "daily")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, persisted.Status)
}

func TestRecover_RearmsAliveTriggersFromStore(t *testing.T) {
	triggers := fakes.NewTriggerStore()
	runs := fakes.NewRunStore()
	active := activemap.New(clock.RealClock{}.Now)
	v := validator.New(true)
	manager := dispatch.NewManager(runs, runs, v, logging.NewNoOpLogger())
	cfg := config.App{CheckpointInterval: time.Hour, ShutdownGrace: time.Second}
	c := controller.New(triggers, runs, runs, active, manager, v, clock.RealClock{}, cfg, logging.NewNoOpLogger())
	ctx := context.Background()

	trig := recurringTrigger("p1", "daily")
	trig.ID = "trig_1"
	trig.Status = model.StatusScheduled
	require.NoError(t, triggers.Insert(ctx, trig))

	require.NoError(t, c.Recover(ctx))

	_, ok := active.Get("trig_1")
	assert.True(t, ok)
}

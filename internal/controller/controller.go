// Package controller is the façade every external caller (API layer,
// CLI, startup code) goes through. It owns the wiring between the
// trigger store, run/attempt store, active trigger map, dispatch
// manager and spinner, and is responsible for startup recovery and
// periodic checkpointing.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/dhima/cronback-scheduler/internal/activemap"
	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/dispatch"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/runstore"
	"github.com/dhima/cronback-scheduler/internal/scheduleiter"
	"github.com/dhima/cronback-scheduler/internal/spinner"
	"github.com/dhima/cronback-scheduler/internal/triggerstore"
	"github.com/dhima/cronback-scheduler/internal/validator"
	"github.com/dhima/cronback-scheduler/pkg/clock"
	"github.com/dhima/cronback-scheduler/pkg/config"
	"go.uber.org/zap"
)

// Controller wires the scheduling and dispatch components together behind
// a single set of operator/API-facing operations.
type Controller struct {
	triggers  triggerstore.Store
	runs      runstore.RunStore
	attempts  runstore.AttemptStore
	active    *activemap.Map
	manager   *dispatch.Manager
	validator *validator.Validator
	spin      *spinner.Spinner
	names     *nameCache
	clk       clock.Clock
	cfg       config.App
	logger    logging.Logger

	checkpointDone chan struct{}
}

// New builds a Controller. The Spinner is constructed here since it needs
// the Controller's own run-building closure.
func New(
	triggers triggerstore.Store,
	runs runstore.RunStore,
	attempts runstore.AttemptStore,
	active *activemap.Map,
	manager *dispatch.Manager,
	v *validator.Validator,
	clk clock.Clock,
	cfg config.App,
	logger logging.Logger,
) *Controller {
	c := &Controller{
		triggers:  triggers,
		runs:      runs,
		attempts:  attempts,
		active:    active,
		manager:   manager,
		validator: v,
		names:     newNameCache(),
		clk:       clk,
		cfg:       cfg,
		logger:    logger,
	}
	c.spin = spinner.New(active, manager, c.buildRun, clk.Now, spinner.Config{
		YieldMax:           time.Duration(cfg.SpinnerYieldMaxMs) * time.Millisecond,
		MaxTriggersPerTick: cfg.MaxTriggersPerTick,
	}, logger)
	return c
}

// buildRun snapshots a trigger's action and payload into a fresh Run.
func (c *Controller) buildRun(trigger *model.Trigger) *model.Run {
	return &model.Run{
		ID:        core.NewRunID(trigger.ProjectID),
		TriggerID: trigger.ID,
		ProjectID: trigger.ProjectID,
		CreatedAt: c.clk.Now(),
		Action:    trigger.Action,
		Payload:   trigger.Payload,
	}
}

// Precondition constrains what UpsertTrigger may do when a trigger with
// the requested name already exists.
type Precondition int

const (
	// AllowExisting replaces the existing trigger's mutable fields.
	AllowExisting Precondition = iota
	// MustNotExist fails with AlreadyExists when the name is taken.
	MustNotExist
)

// UpsertEffect reports whether an upsert created a new trigger or
// replaced an existing one.
type UpsertEffect string

const (
	EffectCreated  UpsertEffect = "Created"
	EffectModified UpsertEffect = "Modified"
)

// insertRaceBackoff is how long to wait before the single retry after a
// duplicate-record error that follows a not-found name check.
const insertRaceBackoff = 250 * time.Millisecond

// UpsertTrigger creates a new trigger, or replaces every mutable field
// of an existing one addressed by (project, name). An update is
// whole-record replacement: status is re-derived from the new schedule.
// Only when the schedule itself changed is the iterator rebuilt with
// fast-forward, so an edit to an unrelated field (URL, timeout, retry)
// never discards an overdue RunAt timepoint. A Recurring iterator always
// starts after the later of now and LastRanAt, so overdue cron firings
// are not replayed either way.
func (c *Controller) UpsertTrigger(ctx context.Context, trigger *model.Trigger, precondition Precondition) (*model.Trigger, UpsertEffect, error) {
	if err := model.ValidateAction(trigger.Action); err != nil {
		return nil, "", err
	}
	if err := model.ValidatePayload(trigger.Payload); err != nil {
		return nil, "", err
	}
	if trigger.Action.Kind == model.ActionWebhook {
		if err := c.validator.Validate(ctx, trigger.Action.URL); err != nil {
			return nil, "", err
		}
	}
	if trigger.Schedule != nil {
		if _, err := scheduleiter.New(trigger.Schedule, nil, c.clk.Now()); err != nil {
			return nil, "", err
		}
	}

	trigger, effect, fastForward, err := c.upsert(ctx, trigger, precondition)
	if effect == EffectCreated {
		var exists *core.AlreadyExistsError
		if errors.As(err, &exists) {
			// Insert race: another writer claimed the name between the
			// not-found check and our insert. Retry once.
			if sleepErr := contextSleep(ctx, insertRaceBackoff); sleepErr != nil {
				return nil, "", err
			}
			trigger, effect, fastForward, err = c.upsert(ctx, trigger, precondition)
		}
	}
	if err != nil {
		return nil, "", err
	}

	c.names.put(trigger.ProjectID, trigger.Name, trigger.ID)

	if trigger.Status.Alive() {
		if err := c.active.AddOrUpdate(trigger, fastForward); err != nil {
			return nil, "", err
		}
	} else {
		c.active.Evict(trigger.ID)
	}

	return trigger, effect, nil
}

// upsert performs the store write. The returned fastForward is true only
// for a replace whose schedule differs from the stored one.
func (c *Controller) upsert(ctx context.Context, trigger *model.Trigger, precondition Precondition) (*model.Trigger, UpsertEffect, bool, error) {
	existingID, err := c.triggers.FindIDByName(ctx, trigger.ProjectID, trigger.Name)
	notFound := isNotFound(err)
	if err != nil && !notFound {
		return nil, "", false, core.Store("find_id_by_name", err)
	}

	now := c.clk.Now()

	if notFound {
		trigger.ID = core.NewTriggerID(trigger.ProjectID)
		trigger.CreatedAt = now
		trigger.Status = model.DerivedStatus(trigger.Schedule)
		if err := c.triggers.Insert(ctx, trigger); err != nil {
			return trigger, EffectCreated, false, err
		}
		return trigger, EffectCreated, false, nil
	}

	if precondition == MustNotExist {
		return nil, "", false, core.AlreadyExists(trigger.Name)
	}

	trigger.ID = existingID
	existing, err := c.triggers.GetByName(ctx, trigger.ProjectID, trigger.Name)
	if err != nil {
		return nil, "", false, core.Store("get_by_name", err)
	}
	trigger.CreatedAt = existing.CreatedAt
	trigger.UpdatedAt = &now
	trigger.Status = model.DerivedStatus(trigger.Schedule)
	trigger.LastRanAt = existing.LastRanAt

	scheduleChanged := !schedulesEqual(existing.Schedule, trigger.Schedule)
	if !scheduleChanged && trigger.Schedule != nil {
		// Same schedule: carry the scheduler-owned countdown forward so
		// an unrelated edit does not reset the run limit.
		trigger.Schedule.Remaining = existing.Schedule.Remaining
	}

	if err := c.triggers.Update(ctx, trigger); err != nil {
		return nil, "", false, err
	}
	return trigger, EffectModified, scheduleChanged, nil
}

// schedulesEqual compares the client-settable schedule fields. Remaining
// is scheduler-owned and deliberately excluded.
func schedulesEqual(a, b *model.Schedule) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Cron != b.Cron || a.Timezone != b.Timezone {
		return false
	}
	if (a.Limit == nil) != (b.Limit == nil) {
		return false
	}
	if a.Limit != nil && *a.Limit != *b.Limit {
		return false
	}
	if len(a.Timepoints) != len(b.Timepoints) {
		return false
	}
	for i := range a.Timepoints {
		if !a.Timepoints[i].Equal(b.Timepoints[i]) {
			return false
		}
	}
	return true
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isNotFound(err error) bool {
	_, ok := err.(*core.NotFoundError)
	return ok
}

// GetTrigger resolves a trigger by name, overlaying the active map's
// in-memory copy when present since it is more current than the last
// checkpoint.
func (c *Controller) GetTrigger(ctx context.Context, projectID, name string) (*model.Trigger, error) {
	id, ok := c.names.get(projectID, name)
	if ok {
		if live, found := c.active.Get(id); found {
			return live, nil
		}
	}
	trigger, err := c.triggers.GetByName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	c.names.put(projectID, name, trigger.ID)
	if live, found := c.active.Get(trigger.ID); found {
		return live, nil
	}
	return trigger, nil
}

// ListTriggers pages through a project's triggers, overlaying freshness
// from the Active Trigger Map entry-by-entry.
func (c *Controller) ListTriggers(ctx context.Context, projectID string, query model.ListTriggersQuery) (model.Page[*model.Trigger], error) {
	page, err := c.triggers.ListByProject(ctx, projectID, query)
	if err != nil {
		return model.Page[*model.Trigger]{}, err
	}
	snapshot := c.active.Snapshot()
	for i, t := range page.Items {
		if live, ok := snapshot[t.ID]; ok {
			page.Items[i] = live
		}
	}
	return page, nil
}

// PauseTrigger transitions a Scheduled trigger to Paused and flushes the
// change immediately. A successful write clears the awaiting-flush mark;
// if the write fails the mark stays and the periodic checkpoint retries.
func (c *Controller) PauseTrigger(ctx context.Context, projectID, name string) error {
	return c.transition(ctx, projectID, name, "pause", c.active.Pause)
}

// ResumeTrigger transitions a Paused trigger back to Scheduled.
func (c *Controller) ResumeTrigger(ctx context.Context, projectID, name string) error {
	return c.transition(ctx, projectID, name, "resume", c.active.Resume)
}

// CancelTrigger transitions a Scheduled, Paused or OnDemand trigger to
// Cancelled, a terminal state; on a successful flush the trigger is
// evicted from the Active Trigger Map entirely. An OnDemand trigger has
// no active-map entry to transition, so its cancel goes through the
// store directly.
func (c *Controller) CancelTrigger(ctx context.Context, projectID, name string) error {
	id, err := c.resolveID(ctx, projectID, name)
	if err != nil {
		return err
	}
	if err := c.active.Cancel(id); err != nil {
		if !isNotFound(err) {
			return err
		}
		return c.cancelViaStore(ctx, projectID, name)
	}
	trigger, ok := c.active.Get(id)
	if !ok {
		return nil
	}
	if err := c.triggers.Update(ctx, trigger); err != nil {
		c.logger.Warn("checkpoint flush failed after cancel, deferring to checkpoint loop",
			zap.String("trigger_id", id), zap.Error(err))
		return nil
	}
	c.active.Evict(id)
	return nil
}

// cancelViaStore handles a cancel on a trigger with no active-map entry:
// an OnDemand trigger is cancellable through the store; anything else
// (a terminal status whose entry was evicted by checkpoint) is refused.
func (c *Controller) cancelViaStore(ctx context.Context, projectID, name string) error {
	trigger, err := c.triggers.GetByName(ctx, projectID, name)
	if err != nil {
		return err
	}
	if trigger.Status != model.StatusOnDemand {
		return core.InvalidStatus("cancel", string(trigger.Status))
	}
	trigger.Status = model.StatusCancelled
	return c.triggers.Update(ctx, trigger)
}

// transition applies a Pause/Resume state change, eagerly flushing it.
// If the trigger is no longer present in the Active Trigger Map (it was
// evicted after reaching a terminal state), apply returns NotFound; that
// is translated into the InvalidStatus error callers expect by reading
// the durable status.
func (c *Controller) transition(ctx context.Context, projectID, name, op string, apply func(string) error) error {
	id, err := c.resolveID(ctx, projectID, name)
	if err != nil {
		return err
	}
	if err := apply(id); err != nil {
		return c.statusErrorOrOriginal(ctx, projectID, name, op, err)
	}
	trigger, ok := c.active.Get(id)
	if !ok {
		return nil
	}
	if err := c.triggers.Update(ctx, trigger); err != nil {
		c.logger.Warn("checkpoint flush failed, deferring to checkpoint loop",
			zap.String("trigger_id", id), zap.Error(err))
		return nil
	}
	c.active.ClearAwaitingDBFlush(id)
	return nil
}

// statusErrorOrOriginal turns a NotFound returned by an Active Trigger Map
// mutation into an InvalidStatus built from the durable status, when the
// trigger still exists in the store (it was simply evicted from memory
// after reaching a terminal state). Any other error, or a genuine
// NotFound at the store too, is returned unchanged.
func (c *Controller) statusErrorOrOriginal(ctx context.Context, projectID, name, op string, mapErr error) error {
	if !isNotFound(mapErr) {
		return mapErr
	}
	status, err := c.triggers.GetStatus(ctx, projectID, name)
	if err != nil {
		return mapErr
	}
	return core.InvalidStatus(op, string(status))
}

func (c *Controller) resolveID(ctx context.Context, projectID, name string) (string, error) {
	if id, ok := c.names.get(projectID, name); ok {
		return id, nil
	}
	id, err := c.triggers.FindIDByName(ctx, projectID, name)
	if err != nil {
		return "", err
	}
	c.names.put(projectID, name, id)
	return id, nil
}

// RunTrigger dispatches a trigger immediately regardless of its
// schedule, provided it is not Cancelled. In Sync mode it blocks until
// the run reaches a terminal state; Async returns once the run is
// stored Attempting.
func (c *Controller) RunTrigger(ctx context.Context, projectID, name string, mode dispatch.Mode) (*model.Run, error) {
	trigger, err := c.GetTrigger(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	if trigger.Status == model.StatusCancelled {
		return nil, core.InvalidStatus("run", string(trigger.Status))
	}
	run := c.buildRun(trigger)
	return c.manager.Dispatch(ctx, run, mode)
}

// DeleteTrigger removes a trigger from both the store and the Active
// Trigger Map, and drops its name from the project-scoped name cache.
func (c *Controller) DeleteTrigger(ctx context.Context, projectID, name string) error {
	id, err := c.resolveID(ctx, projectID, name)
	if err != nil {
		return err
	}
	if err := c.triggers.Delete(ctx, projectID, id); err != nil {
		return err
	}
	c.active.Evict(id)
	c.names.evict(projectID, name)
	return nil
}

// DeleteProjectTriggers wipes every trigger owned by a tenant, used for
// full project teardown.
func (c *Controller) DeleteProjectTriggers(ctx context.Context, projectID string) error {
	if err := c.triggers.DeleteAllByProject(ctx, projectID); err != nil {
		return err
	}
	c.active.RemoveByProject(projectID)
	return nil
}

// PerformCheckpoint flushes every active-map entry marked
// awaiting-db-flush to the trigger store. Retired entries are evicted
// on success and reinserted into the retired set on failure so the next
// checkpoint retries them.
func (c *Controller) PerformCheckpoint(ctx context.Context) error {
	var lastErr error
	for _, id := range c.active.AwaitingDBFlush() {
		trigger, ok := c.active.Get(id)
		if !ok {
			continue
		}
		retired := c.active.IsRetired(id)

		if err := c.triggers.Update(ctx, trigger); err != nil {
			lastErr = err
			c.logger.Warn("checkpoint write failed, will retry", zap.String("trigger_id", id), zap.Error(err))
			if retired {
				c.active.Reinsert(id)
			}
			continue
		}

		if retired {
			c.active.Evict(id)
		} else {
			c.active.ClearAwaitingDBFlush(id)
		}
	}
	return lastErr
}

// Recover rebuilds the Active Trigger Map from durable state at startup
// and resubmits any run left Attempting by a crash, always restarting its
// retry sequence at attempt 1 (the recorded Open Question decision).
func (c *Controller) Recover(ctx context.Context) error {
	alive, err := c.triggers.ListAlive(ctx)
	if err != nil {
		return core.Store("list_alive", err)
	}
	for _, trigger := range alive {
		if err := c.active.AddOrUpdate(trigger, c.cfg.DangerousFastForward); err != nil {
			c.logger.Error("failed to re-arm trigger during recovery",
				zap.String("trigger_id", trigger.ID), zap.Error(err))
			continue
		}
	}
	c.logger.Info("recovered active triggers", zap.Int("count", len(alive)))

	stuck, err := c.runs.ListRunsByStatus(ctx, model.RunAttempting)
	if err != nil {
		return core.Store("list_runs_by_status", err)
	}
	for _, run := range stuck {
		if _, err := c.manager.Dispatch(ctx, run, dispatch.Async); err != nil {
			c.logger.Error("failed to resubmit in-flight run during recovery",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	c.logger.Info("resubmitted in-flight runs", zap.Int("count", len(stuck)))
	return nil
}

// Start launches the spinner tick loop and the periodic checkpoint loop.
// Both observe ctx cancellation and Start returns immediately.
func (c *Controller) Start(ctx context.Context) {
	c.checkpointDone = make(chan struct{})
	go c.spin.Run(ctx)
	go c.checkpointLoop(ctx)
}

func (c *Controller) checkpointLoop(ctx context.Context) {
	defer close(c.checkpointDone)
	ticker := time.NewTicker(c.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.PerformCheckpoint(ctx); err != nil {
				c.logger.Warn("periodic checkpoint encountered errors", zap.Error(err))
			}
		}
	}
}

// Shutdown waits for the checkpoint loop to observe ctx cancellation
// (bounded by cfg.ShutdownGrace) and performs one final checkpoint so no
// in-memory state is lost.
func (c *Controller) Shutdown(ctx context.Context) error {
	grace, cancel := context.WithTimeout(ctx, c.cfg.ShutdownGrace)
	defer cancel()

	if c.checkpointDone != nil {
		select {
		case <-c.checkpointDone:
		case <-grace.Done():
		}
	}
	return c.PerformCheckpoint(ctx)
}

// SpinnerStats exposes the spinner's lightweight observability counters.
func (c *Controller) SpinnerStats() spinner.Stats {
	return c.spin.Stats()
}

package spinner_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dhima/cronback-scheduler/internal/activemap"
	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/dispatch"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/spinner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingManager struct {
	mu    sync.Mutex
	count int32
}

func (c *countingManager) Dispatch(_ context.Context, _ *model.Run, _ dispatch.Mode) (*model.Run, error) {
	atomic.AddInt32(&c.count, 1)
	return nil, nil
}

func (c *countingManager) Count() int32 { return atomic.LoadInt32(&c.count) }

func buildRun(t *model.Trigger) *model.Run {
	return &model.Run{ID: core.NewRunID(t.ProjectID), TriggerID: t.ID, ProjectID: t.ProjectID}
}

func TestSpinner_FiresDueTriggerOnTick(t *testing.T) {
	clockTime := time.Date(2030, 1, 1, 12, 0, 59, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clockTime
	}

	m := activemap.New(now)
	trig := &model.Trigger{
		ID: "t1", ProjectID: "p1", Name: "every-minute", Status: model.StatusScheduled,
		Schedule: &model.Schedule{Kind: model.ScheduleRecurring, Cron: "0 * * * * *", Timezone: "Etc/UTC"},
	}
	require.NoError(t, m.AddOrUpdate(trig, false))

	manager := &countingManager{}
	sp := spinner.New(m, manager, buildRun, now, spinner.Config{YieldMax: 10 * time.Millisecond, MaxTriggersPerTick: 10}, logging.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go sp.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	clockTime = clockTime.Add(1 * time.Second) // now :01:00, the trigger is due
	mu.Unlock()

	time.Sleep(80 * time.Millisecond)
	cancel()

	assert.GreaterOrEqual(t, manager.Count(), int32(1))
}

func TestSpinner_RespectsMaxTriggersPerTick(t *testing.T) {
	// Iterators are built at 12:00:30 so every trigger peeks 12:01:00;
	// the spinner's clock sits at 12:01:00, making all five due at once.
	buildNow := func() time.Time { return time.Date(2030, 1, 1, 12, 0, 30, 0, time.UTC) }
	tickNow := func() time.Time { return time.Date(2030, 1, 1, 12, 1, 0, 0, time.UTC) }

	m := activemap.New(buildNow)
	for i := 0; i < 5; i++ {
		trig := &model.Trigger{
			ID: string(rune('a' + i)), ProjectID: "p1", Name: string(rune('a' + i)), Status: model.StatusScheduled,
			Schedule: &model.Schedule{Kind: model.ScheduleRecurring, Cron: "0 * * * * *", Timezone: "Etc/UTC"},
		}
		require.NoError(t, m.AddOrUpdate(trig, false))
	}

	manager := &countingManager{}
	// YieldMax of one second keeps the loop to a single tick within the
	// observation window.
	sp := spinner.New(m, manager, buildRun, tickNow, spinner.Config{YieldMax: time.Second, MaxTriggersPerTick: 2}, logging.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go sp.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	assert.LessOrEqual(t, manager.Count(), int32(2))
	stats := sp.Stats()
	assert.GreaterOrEqual(t, stats.CapHits, 1)
}

package scheduleiter_test

import (
	"testing"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/scheduleiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func TestRecurring_EveryMinuteAtSecondZero(t *testing.T) {
	now := mustParse(t, "2030-01-01T12:00:30Z")
	sched := &model.Schedule{Kind: model.ScheduleRecurring, Cron: "0 * * * * *", Timezone: "Etc/UTC"}

	it, err := scheduleiter.New(sched, nil, now)
	require.NoError(t, err)

	next, ok := it.Peek()
	require.True(t, ok)
	assert.Equal(t, mustParse(t, "2030-01-01T12:01:00Z"), next)
}

func TestRecurring_RemainingExhausts(t *testing.T) {
	now := mustParse(t, "2030-01-01T12:00:00Z")
	limit := 2
	sched := &model.Schedule{Kind: model.ScheduleRecurring, Cron: "0 * * * * *", Timezone: "Etc/UTC", Limit: &limit}

	it, err := scheduleiter.New(sched, nil, now)
	require.NoError(t, err)

	_, ok := it.Next()
	assert.True(t, ok)
	_, ok = it.Next()
	assert.True(t, ok)
	_, ok = it.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, *it.Remaining())
}

func TestRecurring_InvalidCron(t *testing.T) {
	sched := &model.Schedule{Kind: model.ScheduleRecurring, Cron: "not a cron", Timezone: "Etc/UTC"}
	_, err := scheduleiter.New(sched, nil, time.Now())
	var iae *core.InvalidArgumentError
	assert.ErrorAs(t, err, &iae)
}

func TestRecurring_InvalidTimezone(t *testing.T) {
	sched := &model.Schedule{Kind: model.ScheduleRecurring, Cron: "0 * * * * *", Timezone: "Not/AZone"}
	_, err := scheduleiter.New(sched, nil, time.Now())
	assert.Error(t, err)
}

func TestRunAt_PastTimepointYieldsZeroFirings(t *testing.T) {
	now := mustParse(t, "2030-06-01T00:00:00Z")
	sched := &model.Schedule{
		Kind:       model.ScheduleRunAt,
		Timepoints: []time.Time{mustParse(t, "2020-01-01T00:00:00Z")},
	}

	it, err := scheduleiter.New(sched, &now, now)
	require.NoError(t, err)

	_, ok := it.Peek()
	assert.False(t, ok)
}

func TestRunAt_PastTimepointDiscardedEvenWithoutLastRanAt(t *testing.T) {
	now := mustParse(t, "2030-06-01T00:00:00Z")
	sched := &model.Schedule{
		Kind:       model.ScheduleRunAt,
		Timepoints: []time.Time{mustParse(t, "2020-01-01T00:00:00Z")},
	}

	it, err := scheduleiter.New(sched, nil, now)
	require.NoError(t, err)

	_, ok := it.Peek()
	assert.False(t, ok)
	assert.Equal(t, 0, *it.Remaining())
}

func TestRunAt_DuplicateAtSecondPrecisionRejected(t *testing.T) {
	sched := &model.Schedule{
		Kind: model.ScheduleRunAt,
		Timepoints: []time.Time{
			mustParse(t, "2030-01-01T00:00:00Z"),
			mustParse(t, "2030-01-01T00:00:00.500Z"),
		},
	}
	_, err := scheduleiter.New(sched, nil, time.Now())
	assert.ErrorContains(t, err, "duplicate_run_at_value")
}

func TestRunAt_PopsEarliestFirst(t *testing.T) {
	a := mustParse(t, "2030-01-02T00:00:00Z")
	b := mustParse(t, "2030-01-01T00:00:00Z")
	sched := &model.Schedule{Kind: model.ScheduleRunAt, Timepoints: []time.Time{a, b}}

	it, err := scheduleiter.New(sched, nil, mustParse(t, "2020-01-01T00:00:00Z"))
	require.NoError(t, err)

	first, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, b, first)

	second, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, a, second)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestRunAt_RemainingDecrementsPerNext(t *testing.T) {
	sched := &model.Schedule{
		Kind: model.ScheduleRunAt,
		Timepoints: []time.Time{
			mustParse(t, "2030-01-01T00:00:00Z"),
			mustParse(t, "2030-01-02T00:00:00Z"),
		},
	}
	it, err := scheduleiter.New(sched, nil, mustParse(t, "2020-01-01T00:00:00Z"))
	require.NoError(t, err)

	assert.Equal(t, 2, *it.Remaining())
	it.Next()
	assert.Equal(t, 1, *it.Remaining())
}

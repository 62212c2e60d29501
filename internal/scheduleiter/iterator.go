// Package scheduleiter turns a schedule plus an optional last-ran-at
// instant into a lazy ordered sequence of future UTC timepoints,
// honoring run-limits and timezone.
package scheduleiter

import (
	"container/heap"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Iterator exposes a non-consuming Peek and a consuming Next. Next
// decrements Remaining when the schedule has a bound; once Remaining
// reaches zero (or the RunAt heap empties), the iterator is exhausted and
// Peek/Next both return ok=false.
type Iterator interface {
	// Peek returns the next instant without consuming it.
	Peek() (t time.Time, ok bool)
	// Next consumes and returns the next instant, decrementing Remaining.
	Next() (t time.Time, ok bool)
	// Remaining reports the number of firings left, or nil if unbounded.
	Remaining() *int
}

// New builds an Iterator for schedule. A Recurring iterator yields
// instants strictly after the later of now and lastRanAt, so cron
// firings missed before now are not replayed. A RunAt iterator keeps the
// timepoints strictly after lastRanAt, or strictly after now when
// lastRanAt is nil. The cron expression, timezone and RunAt
// timepoints are validated eagerly so a bad schedule is rejected before
// anything is persisted.
func New(schedule *model.Schedule, lastRanAt *time.Time, now time.Time) (Iterator, error) {
	switch schedule.Kind {
	case model.ScheduleRecurring:
		return newRecurring(schedule, lastRanAt, now)
	case model.ScheduleRunAt:
		return newRunAt(schedule, lastRanAt, now)
	default:
		return nil, core.InvalidArgument("unknown schedule kind %q", schedule.Kind)
	}
}

// recurringIter wraps a parsed cron.Schedule plus a cursor instant (the
// last instant emitted, or the floor below which nothing may fire).
type recurringIter struct {
	sched     cron.Schedule
	loc       *time.Location
	cursor    time.Time // floor: Next()/Peek() look strictly after this
	remaining *int
}

func newRecurring(schedule *model.Schedule, lastRanAt *time.Time, now time.Time) (Iterator, error) {
	loc, err := resolveTimezone(schedule.Timezone)
	if err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(schedule.Cron)
	if err != nil {
		return nil, core.InvalidArgument("invalid cron expression %q: %v", schedule.Cron, err)
	}

	floor := now
	if lastRanAt != nil && lastRanAt.After(floor) {
		floor = *lastRanAt
	}

	var remaining *int
	if schedule.Remaining != nil {
		r := *schedule.Remaining
		remaining = &r
	} else if schedule.Limit != nil {
		r := *schedule.Limit
		remaining = &r
	}

	return &recurringIter{sched: sched, loc: loc, cursor: floor, remaining: remaining}, nil
}

func (r *recurringIter) Peek() (time.Time, bool) {
	if r.remaining != nil && *r.remaining <= 0 {
		return time.Time{}, false
	}
	next := r.sched.Next(r.cursor.In(r.loc)).UTC()
	return next, true
}

func (r *recurringIter) Next() (time.Time, bool) {
	next, ok := r.Peek()
	if !ok {
		return time.Time{}, false
	}
	r.cursor = next
	if r.remaining != nil {
		*r.remaining--
	}
	return next, true
}

func (r *recurringIter) Remaining() *int { return r.remaining }

func resolveTimezone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, core.InvalidArgument("invalid timezone %q: %v", tz, err)
	}
	return loc, nil
}

// runAtIter is a min-heap of remaining timepoints.
type runAtIter struct {
	heap      timeHeap
	remaining int
}

func newRunAt(schedule *model.Schedule, lastRanAt *time.Time, now time.Time) (Iterator, error) {
	if len(schedule.Timepoints) == 0 || len(schedule.Timepoints) > 5000 {
		return nil, core.InvalidArgument("run_at schedule must have between 1 and 5000 timepoints")
	}

	cutoff := now
	if lastRanAt != nil {
		cutoff = *lastRanAt
	}

	seen := make(map[int64]struct{}, len(schedule.Timepoints))
	h := make(timeHeap, 0, len(schedule.Timepoints))
	for _, tp := range schedule.Timepoints {
		sec := tp.Unix()
		if _, dup := seen[sec]; dup {
			return nil, core.InvalidArgument("duplicate_run_at_value")
		}
		seen[sec] = struct{}{}

		if !tp.After(cutoff) {
			continue
		}
		h = append(h, tp.UTC())
	}
	heap.Init(&h)

	return &runAtIter{heap: h, remaining: len(h)}, nil
}

func (r *runAtIter) Peek() (time.Time, bool) {
	if len(r.heap) == 0 {
		return time.Time{}, false
	}
	return r.heap[0], true
}

func (r *runAtIter) Next() (time.Time, bool) {
	if len(r.heap) == 0 {
		return time.Time{}, false
	}
	next := heap.Pop(&r.heap).(time.Time)
	r.remaining--
	return next, true
}

func (r *runAtIter) Remaining() *int {
	rem := r.remaining
	return &rem
}

// timeHeap implements container/heap.Interface over time.Time, ordered
// earliest-first.
type timeHeap []time.Time

func (h timeHeap) Len() int            { return len(h) }
func (h timeHeap) Less(i, j int) bool  { return h[i].Before(h[j]) }
func (h timeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeHeap) Push(x interface{}) { *h = append(*h, x.(time.Time)) }
func (h *timeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

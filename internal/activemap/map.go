// Package activemap holds the in-memory authoritative set of live
// triggers, tracking dirty, retired, and awaiting-db-flush state behind
// a single reader-writer lock. Locks are held only across in-memory
// work; callers do all I/O off-lock.
package activemap

import (
	"sync"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/scheduleiter"
)

// ActiveTrigger wraps a Trigger with its live Schedule Iterator.
type ActiveTrigger struct {
	Trigger  *model.Trigger
	Iterator scheduleiter.Iterator
}

// TemporalEntry is one (next_tick, trigger_id) pair used by the Spinner to
// build its min-heap.
type TemporalEntry struct {
	NextTick  time.Time
	TriggerID string
}

// Map is the Active Trigger Map. All methods are safe for concurrent use.
type Map struct {
	mu                sync.RWMutex
	triggers          map[string]*ActiveTrigger
	dirty             bool
	awaitingDBFlush   map[string]struct{}
	retired           map[string]struct{}
	now               func() time.Time
}

// New builds an empty Map. nowFn supplies the current time (pkg/clock.Clock.Now)
// for iterator construction.
func New(nowFn func() time.Time) *Map {
	return &Map{
		triggers:        make(map[string]*ActiveTrigger),
		awaitingDBFlush: make(map[string]struct{}),
		retired:         make(map[string]struct{}),
		now:             nowFn,
	}
}

// AddOrUpdate builds a fresh iterator for trigger and stores it, marking
// the map dirty. If fastForward is true the iterator is built as though
// LastRanAt were unset, so a schedule change does not fire historical
// timepoints.
func (m *Map) AddOrUpdate(trigger *model.Trigger, fastForward bool) error {
	if trigger.Schedule == nil {
		return core.InvalidArgument("cannot add a trigger with no schedule to the active map")
	}

	lastRanAt := trigger.LastRanAt
	if fastForward {
		lastRanAt = nil
	}

	it, err := scheduleiter.New(trigger.Schedule, lastRanAt, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[trigger.ID] = &ActiveTrigger{Trigger: trigger, Iterator: it}
	delete(m.retired, trigger.ID)
	m.dirty = true
	return nil
}

// Get returns the in-memory copy of a trigger, if alive.
func (m *Map) Get(id string) (*model.Trigger, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.triggers[id]
	if !ok {
		return nil, false
	}
	return at.Trigger, true
}

// Advance consumes the iterator for id and returns the following peek. If
// the iterator is exhausted, the trigger is marked retired and its status
// transitions to Expired; ok is false in that case.
func (m *Map) Advance(id string) (next time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, present := m.triggers[id]
	if !present {
		return time.Time{}, false
	}
	if _, isRetired := m.retired[id]; isRetired {
		return time.Time{}, false
	}
	if at.Trigger.Status != model.StatusScheduled {
		// Paused after being heaped; leave the iterator untouched so
		// resume picks up exactly where the schedule left off.
		return time.Time{}, false
	}

	if _, hadNext := at.Iterator.Next(); !hadNext {
		at.Trigger.Status = model.StatusExpired
		syncRemaining(at)
		m.retired[id] = struct{}{}
		m.awaitingDBFlush[id] = struct{}{}
		return time.Time{}, false
	}
	syncRemaining(at)
	m.awaitingDBFlush[id] = struct{}{}

	peeked, hasMore := at.Iterator.Peek()
	if !hasMore {
		at.Trigger.Status = model.StatusExpired
		m.retired[id] = struct{}{}
		m.awaitingDBFlush[id] = struct{}{}
		return time.Time{}, false
	}
	return peeked, true
}

// syncRemaining mirrors the iterator's own Remaining counter back onto
// the trigger's Schedule so a checkpoint flush persists the run-limit
// countdown alongside last_ran_at.
func syncRemaining(at *ActiveTrigger) {
	rem := at.Iterator.Remaining()
	if rem == nil {
		return
	}
	r := *rem
	at.Trigger.Schedule.Remaining = &r
}

// Pause transitions a Scheduled trigger to Paused in place (it remains in
// the map). Any other current status is an error.
func (m *Map) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.triggers[id]
	if !ok {
		return core.NotFound("trigger", id)
	}
	if at.Trigger.Status != model.StatusScheduled {
		return core.InvalidStatus("pause", string(at.Trigger.Status))
	}
	at.Trigger.Status = model.StatusPaused
	m.awaitingDBFlush[id] = struct{}{}
	m.dirty = true
	return nil
}

// Resume transitions a Paused trigger back to Scheduled. The iterator is
// rebuilt from the current time and LastRanAt, so the next cron fire
// lands at or after now rather than catching up firings that fell
// inside the pause window. Explicit timepoints after LastRanAt are kept,
// including ones the pause skipped over; for a trigger that has never
// run, only timepoints after now are kept.
func (m *Map) Resume(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.triggers[id]
	if !ok {
		return core.NotFound("trigger", id)
	}
	if at.Trigger.Status != model.StatusPaused {
		return core.InvalidStatus("resume", string(at.Trigger.Status))
	}
	it, err := scheduleiter.New(at.Trigger.Schedule, at.Trigger.LastRanAt, m.now())
	if err != nil {
		return err
	}
	at.Iterator = it
	at.Trigger.Status = model.StatusScheduled
	m.awaitingDBFlush[id] = struct{}{}
	m.dirty = true
	return nil
}

// Cancel transitions a Scheduled or Paused trigger to Cancelled and marks
// it retired; removal from the map happens on the next successful
// checkpoint flush.
func (m *Map) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.triggers[id]
	if !ok {
		return core.NotFound("trigger", id)
	}
	if at.Trigger.Status != model.StatusScheduled && at.Trigger.Status != model.StatusPaused {
		return core.InvalidStatus("cancel", string(at.Trigger.Status))
	}
	at.Trigger.Status = model.StatusCancelled
	m.retired[id] = struct{}{}
	m.awaitingDBFlush[id] = struct{}{}
	m.dirty = true
	return nil
}

// UpdateLastRanAt keeps the later of the trigger's existing LastRanAt and
// ts (monotonic max). It marks the trigger awaiting-db-flush only if the
// value actually changed.
func (m *Map) UpdateLastRanAt(id string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.triggers[id]
	if !ok {
		return
	}
	if at.Trigger.LastRanAt != nil && !ts.After(*at.Trigger.LastRanAt) {
		return
	}
	at.Trigger.LastRanAt = &ts
	m.awaitingDBFlush[id] = struct{}{}
}

// BuildTemporalState calls Peek on every live iterator and clears dirty.
// It is the only method the Spinner needs to rebuild its min-heap.
// Paused triggers stay in the map but contribute no entry; pausing marks
// the map dirty, so the next rebuild drops them from the heap.
func (m *Map) BuildTemporalState() []TemporalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]TemporalEntry, 0, len(m.triggers))
	for id, at := range m.triggers {
		if _, isRetired := m.retired[id]; isRetired {
			continue
		}
		if at.Trigger.Status != model.StatusScheduled {
			continue
		}
		if next, ok := at.Iterator.Peek(); ok {
			entries = append(entries, TemporalEntry{NextTick: next, TriggerID: id})
		}
	}
	m.dirty = false
	return entries
}

// Dirty reports whether a structural mutation has occurred since the last
// BuildTemporalState call.
func (m *Map) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// AwaitingDBFlush returns a snapshot of ids whose in-memory state diverges
// from the durable copy.
func (m *Map) AwaitingDBFlush() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.awaitingDBFlush))
	for id := range m.awaitingDBFlush {
		out = append(out, id)
	}
	return out
}

// ClearAwaitingDBFlush drops id from the awaiting-flush set after a
// successful checkpoint write.
func (m *Map) ClearAwaitingDBFlush(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.awaitingDBFlush, id)
}

// IsRetired reports whether id has been marked retired (exhausted or
// cancelled).
func (m *Map) IsRetired(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.retired[id]
	return ok
}

// Evict removes a retired trigger from the map entirely, called by the
// checkpointer after a successful flush.
func (m *Map) Evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggers, id)
	delete(m.retired, id)
	delete(m.awaitingDBFlush, id)
}

// Reinsert puts a retired id back into the retired set, used when a
// flush attempt for a retired trigger fails and the in-memory state must
// remain self-consistent.
func (m *Map) Reinsert(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, stillPresent := m.triggers[id]; stillPresent {
		m.retired[id] = struct{}{}
	}
}

// RemoveByProject bulk-deletes every trigger belonging to project
// without individually flushing, used for tenant wipe where the caller
// deletes the durable rows separately.
func (m *Map) RemoveByProject(project string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, at := range m.triggers {
		if at.Trigger.ProjectID == project {
			delete(m.triggers, id)
			delete(m.retired, id)
			delete(m.awaitingDBFlush, id)
		}
	}
	m.dirty = true
}

// Snapshot returns every trigger currently in the map (including retired
// ones awaiting eviction), as a freshly built map (the triggers
// themselves are not copied) for callers like list_triggers
// that need to overlay in-memory freshness onto a store page.
func (m *Map) Snapshot() map[string]*model.Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.Trigger, len(m.triggers))
	for id, at := range m.triggers {
		out[id] = at.Trigger
	}
	return out
}

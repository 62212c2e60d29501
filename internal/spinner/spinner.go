// Package spinner implements the scheduling hot loop: a dedicated
// goroutine that pops due triggers from a min-heap ordered by next-fire
// time and submits dispatch jobs.
//
// Each tick harvests finished dispatches, pops due entries up to the
// per-tick cap, submits them, advances their iterators, rebuilds the
// heap if the active map changed, and sleeps out the remainder of the
// tick budget.
package spinner

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"

	"github.com/dhima/cronback-scheduler/internal/activemap"
	"github.com/dhima/cronback-scheduler/internal/dispatch"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/model"
	"go.uber.org/zap"
)

// DispatchSubmitter is the subset of the dispatch manager the spinner
// needs: submit a run asynchronously.
type DispatchSubmitter interface {
	Dispatch(ctx context.Context, run *model.Run, mode dispatch.Mode) (*model.Run, error)
}

// RunFactory builds a fresh Run for a trigger that just became due. How
// a Run's action/payload snapshot is built from a Trigger is the
// Controller's concern, so it is injected here.
type RunFactory func(trigger *model.Trigger) *model.Run

// Config bounds the spinner's tick behavior.
type Config struct {
	YieldMax           time.Duration
	MaxTriggersPerTick int
}

// inflightEntry tracks a dispatch the spinner submitted but has not yet
// harvested.
type inflightEntry struct {
	triggerID string
	submitAt  time.Time
	done      chan error
}

// Spinner runs the fixed-cadence tick loop.
type Spinner struct {
	activeMap *activemap.Map
	manager   DispatchSubmitter
	buildRun  RunFactory
	now       func() time.Time
	cfg       Config
	logger    logging.Logger

	heap     entryHeap
	inflight []*inflightEntry

	capHits     atomic.Int64
	lagWarnings atomic.Int64
}

// New builds a Spinner. nowFn supplies wall-clock time (pkg/clock.Clock.Now).
func New(activeMap *activemap.Map, manager DispatchSubmitter, buildRun RunFactory, nowFn func() time.Time, cfg Config, logger logging.Logger) *Spinner {
	if cfg.YieldMax <= 0 {
		cfg.YieldMax = 500 * time.Millisecond
	}
	if cfg.MaxTriggersPerTick <= 0 {
		cfg.MaxTriggersPerTick = 1000
	}
	return &Spinner{
		activeMap: activeMap,
		manager:   manager,
		buildRun:  buildRun,
		now:       nowFn,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes the tick loop until ctx is cancelled, checking once per
// tick.
func (s *Spinner) Run(ctx context.Context) {
	heap.Init(&s.heap)
	entries := s.activeMap.BuildTemporalState()
	for _, e := range entries {
		heap.Push(&s.heap, heapEntry{nextTick: e.NextTick, triggerID: e.TriggerID})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		s.tick(ctx)
		elapsed := time.Since(start)

		sleep := s.cfg.YieldMax - elapsed
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// tick performs one iteration of the loop.
func (s *Spinner) tick(ctx context.Context) {
	s.harvestInflight()

	now := s.now()
	dueCount := 0
	var due []heapEntry
	for s.heap.Len() > 0 && s.heap[0].nextTick.Compare(now) <= 0 {
		if dueCount >= s.cfg.MaxTriggersPerTick {
			s.capHits.Add(1)
			s.logger.Warn("max_triggers_per_tick cap hit", zap.Int("cap", s.cfg.MaxTriggersPerTick))
			break
		}
		entry := heap.Pop(&s.heap).(heapEntry)
		due = append(due, entry)
		dueCount++
	}

	for _, entry := range due {
		s.submit(ctx, entry, now)
	}

	for _, entry := range due {
		if next, ok := s.activeMap.Advance(entry.triggerID); ok {
			heap.Push(&s.heap, heapEntry{nextTick: next, triggerID: entry.triggerID})
		}
	}

	if s.activeMap.Dirty() {
		s.rebuildHeap()
	}
}

func (s *Spinner) submit(ctx context.Context, entry heapEntry, now time.Time) {
	if s.activeMap.IsRetired(entry.triggerID) {
		return
	}
	trigger, ok := s.activeMap.Get(entry.triggerID)
	if !ok {
		return
	}
	// The trigger may have been paused or cancelled after this entry was
	// heaped but before the dirty rebuild caught up.
	if trigger.Status != model.StatusScheduled {
		return
	}

	lag := now.Sub(entry.nextTick)
	if lag > 10*time.Second {
		s.lagWarnings.Add(1)
		s.logger.Warn("dispatch lag exceeds threshold", zap.Duration("lag", lag), zap.String("trigger_id", entry.triggerID))
	}

	run := s.buildRun(trigger)
	done := make(chan error, 1)
	s.inflight = append(s.inflight, &inflightEntry{triggerID: entry.triggerID, submitAt: now, done: done})

	go func() {
		_, err := s.manager.Dispatch(ctx, run, dispatch.Async)
		done <- err
	}()
}

// harvestInflight drains completed dispatch futures and, for each that
// succeeded, calls UpdateLastRanAt with its submit time.
func (s *Spinner) harvestInflight() {
	remaining := s.inflight[:0]
	for _, e := range s.inflight {
		select {
		case err := <-e.done:
			if err == nil {
				s.activeMap.UpdateLastRanAt(e.triggerID, e.submitAt)
			}
		default:
			remaining = append(remaining, e)
		}
	}
	s.inflight = remaining
}

func (s *Spinner) rebuildHeap() {
	entries := s.activeMap.BuildTemporalState()
	s.heap = s.heap[:0]
	for _, e := range entries {
		s.heap = append(s.heap, heapEntry{nextTick: e.NextTick, triggerID: e.TriggerID})
	}
	heap.Init(&s.heap)
}

// Stats reports lightweight in-memory counters (cap-hit warnings,
// dispatch-lag warnings).
type Stats struct {
	CapHits     int
	LagWarnings int
}

func (s *Spinner) Stats() Stats {
	return Stats{CapHits: int(s.capHits.Load()), LagWarnings: int(s.lagWarnings.Load())}
}

type heapEntry struct {
	nextTick  time.Time
	triggerID string
}

type entryHeap []heapEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].nextTick.Before(h[j].nextTick) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(heapEntry))
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

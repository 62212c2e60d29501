package fakes

import (
	"context"
	"sort"
	"sync"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
)

// RunStore is an in-memory implementation of runstore.RunStore and
// runstore.AttemptStore combined, following the same mutex-guarded-map
// shape as fakes.TriggerStore. Its listings do not page by cursor:
// ListRunsByTrigger honors only Limit and never sets NextCursor, and
// ListAttemptsForRun returns every attempt in attempt_num order.
type RunStore struct {
	mu       sync.Mutex
	runs     map[string]*model.Run
	attempts map[string][]*model.Attempt // run id -> attempts, append-only
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs:     make(map[string]*model.Run),
		attempts: make(map[string][]*model.Attempt),
	}
}

func (f *RunStore) StoreRun(_ context.Context, r *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.runs[r.ID] = &cp
	return nil
}

func (f *RunStore) UpdateRun(_ context.Context, r *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.runs[r.ID]
	if !ok || existing.ProjectID != r.ProjectID {
		return core.NotFound("run", r.ID)
	}
	cp := *r
	f.runs[r.ID] = &cp
	return nil
}

func (f *RunStore) GetRun(_ context.Context, projectID, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok || r.ProjectID != projectID {
		return nil, core.NotFound("run", runID)
	}
	cp := *r
	return &cp, nil
}

func (f *RunStore) ListRunsByTrigger(_ context.Context, projectID string, query model.ListRunsQuery) (model.Page[*model.RunSummary], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := make([]*model.Run, 0)
	for _, r := range f.runs {
		if r.ProjectID == projectID && r.TriggerID == query.TriggerID {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	limit := query.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > len(all) {
		limit = len(all)
	}

	page := model.Page[*model.RunSummary]{}
	for _, r := range all[:limit] {
		sum := &model.RunSummary{Run: *r}
		for _, a := range f.attempts[r.ID] {
			if a.ID == r.LatestAttemptID {
				cp := *a
				sum.LatestAttempt = &cp
				break
			}
		}
		page.Items = append(page.Items, sum)
	}
	return page, nil
}

func (f *RunStore) ListRunsByStatus(_ context.Context, status model.RunStatus) ([]*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Run, 0)
	for _, r := range f.runs {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *RunStore) LogAttempt(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.attempts[a.RunID] = append(f.attempts[a.RunID], &cp)
	return nil
}

func (f *RunStore) ListAttemptsForRun(_ context.Context, projectID string, query model.ListAttemptsQuery) (model.Page[*model.Attempt], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := make([]*model.Attempt, 0)
	for _, a := range f.attempts[query.RunID] {
		if a.ProjectID == projectID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AttemptNum < all[j].AttemptNum })

	page := model.Page[*model.Attempt]{}
	for _, a := range all {
		cp := *a
		page.Items = append(page.Items, &cp)
	}
	return page, nil
}

// AttemptsFor returns a snapshot of attempts logged for a run, for test
// assertions.
func (f *RunStore) AttemptsFor(runID string) []*model.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Attempt, len(f.attempts[runID]))
	copy(out, f.attempts[runID])
	return out
}

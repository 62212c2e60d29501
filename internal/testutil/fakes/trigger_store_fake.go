// Package fakes holds in-memory, mutex-protected store doubles used by
// tests across the module: a sync.Mutex-guarded map, defensive copies
// in and out, and (in TriggerStore) sorted cursor-based pagination.
package fakes

import (
	"context"
	"sort"
	"sync"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
)

// TriggerStore is an in-memory implementation of triggerstore.Store.
type TriggerStore struct {
	mu       sync.Mutex
	triggers map[string]*model.Trigger // id -> trigger
	byName   map[string]string         // project|name -> id
}

func NewTriggerStore() *TriggerStore {
	return &TriggerStore{
		triggers: make(map[string]*model.Trigger),
		byName:   make(map[string]string),
	}
}

func nameKey(project, name string) string { return project + "|" + name }

func (f *TriggerStore) Insert(_ context.Context, t *model.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.triggers[t.ID]; exists {
		return core.AlreadyExists(t.Name)
	}
	key := nameKey(t.ProjectID, t.Name)
	if _, exists := f.byName[key]; exists {
		return core.AlreadyExists(t.Name)
	}

	cp := *t
	f.triggers[t.ID] = &cp
	f.byName[key] = t.ID
	return nil
}

func (f *TriggerStore) Update(_ context.Context, t *model.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.triggers[t.ID]
	if !ok || existing.ProjectID != t.ProjectID {
		return core.NotFound("trigger", t.ID)
	}

	delete(f.byName, nameKey(existing.ProjectID, existing.Name))
	cp := *t
	f.triggers[t.ID] = &cp
	f.byName[nameKey(t.ProjectID, t.Name)] = t.ID
	return nil
}

func (f *TriggerStore) Delete(_ context.Context, projectID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.triggers[id]
	if !ok || existing.ProjectID != projectID {
		return core.NotFound("trigger", id)
	}
	delete(f.byName, nameKey(existing.ProjectID, existing.Name))
	delete(f.triggers, id)
	return nil
}

func (f *TriggerStore) DeleteAllByProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.triggers {
		if t.ProjectID == projectID {
			delete(f.byName, nameKey(t.ProjectID, t.Name))
			delete(f.triggers, id)
		}
	}
	return nil
}

func (f *TriggerStore) GetByName(_ context.Context, projectID, name string) (*model.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[nameKey(projectID, name)]
	if !ok {
		return nil, core.NotFound("trigger", name)
	}
	cp := *f.triggers[id]
	return &cp, nil
}

func (f *TriggerStore) FindIDByName(_ context.Context, projectID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[nameKey(projectID, name)]
	if !ok {
		return "", core.NotFound("trigger", name)
	}
	return id, nil
}

func (f *TriggerStore) GetStatus(_ context.Context, projectID, name string) (model.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[nameKey(projectID, name)]
	if !ok {
		return "", core.NotFound("trigger", name)
	}
	return f.triggers[id].Status, nil
}

func (f *TriggerStore) ListAlive(_ context.Context) ([]*model.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Trigger, 0)
	for _, t := range f.triggers {
		if t.Status.Alive() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *TriggerStore) ListByProject(_ context.Context, projectID string, query model.ListTriggersQuery) (model.Page[*model.Trigger], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := make([]*model.Trigger, 0)
	for _, t := range f.triggers {
		if t.ProjectID != projectID {
			continue
		}
		if query.StatusFilter != nil && t.Status != *query.StatusFilter {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID }) // newer first

	start := 0
	if query.Pagination.Cursor != "" {
		for i, t := range all {
			if t.ID == query.Pagination.Cursor {
				start = i + 1
				break
			}
		}
	}
	limit := query.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}

	page := model.Page[*model.Trigger]{}
	for _, t := range all[start:end] {
		cp := *t
		page.Items = append(page.Items, &cp)
	}
	if end < len(all) {
		page.NextCursor = all[end-1].ID
	}
	return page, nil
}

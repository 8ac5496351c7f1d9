package kpi

import (
	"context"
	"sync"
	"time"
)

// MemoryWorkItems is an in-memory WorkItemSource for fixtures and tests.
type MemoryWorkItems struct {
	mu    sync.RWMutex
	items []WorkItem
}

func NewMemoryWorkItems(items ...WorkItem) *MemoryWorkItems {
	m := &MemoryWorkItems{}
	m.Add(items...)
	return m
}

func (m *MemoryWorkItems) Add(items ...WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
}

// Query returns copies of the matching items. Items without a deadline
// never match a deadline range.
func (m *MemoryWorkItems) Query(ctx context.Context, assignee string, from, to time.Time, tagIDs []string) ([]WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(tagIDs))
	for _, t := range tagIDs {
		want[t] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WorkItem
	for _, it := range m.items {
		if it.Assignee != assignee || it.Deadline == nil {
			continue
		}
		if it.Deadline.Before(from) || it.Deadline.After(to) {
			continue
		}
		for _, t := range it.TagIDs {
			if want[t] {
				out = append(out, it)
				break
			}
		}
	}
	return out, nil
}

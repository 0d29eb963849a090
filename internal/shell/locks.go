package shell

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ResourceLocks gives mutual exclusion per named resource. Commands holding
// different names run concurrently; commands sharing a name run one at a
// time.
type ResourceLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewResourceLocks creates an empty lock set.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{sems: make(map[string]*semaphore.Weighted)}
}

func (r *ResourceLocks) get(name string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sems[name]
	if !ok {
		s = semaphore.NewWeighted(1)
		r.sems[name] = s
	}
	return s
}

// LockAll acquires every name, in sorted order so that two callers with
// overlapping sets cannot deadlock. On error nothing stays held. The
// returned func releases in reverse order.
func (r *ResourceLocks) LockAll(ctx context.Context, names []string) (unlock func(), err error) {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*semaphore.Weighted, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}

	for _, name := range sorted {
		s := r.get(name)
		if err := s.Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, s)
	}
	return release, nil
}

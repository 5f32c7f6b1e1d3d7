// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and ephemeral
// runs where crash recovery is not needed.
package memory

import (
	"context"
	"sort"
	"sync"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store   = (*Store)(nil)
	_ group.Store = (*Store)(nil)
)

// Store is a map-backed implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	groups map[string]*group.Group
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		groups: make(map[string]*group.Group),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// SaveJob inserts or overwrites the job record keyed by its id.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID.String()] = j.Clone()
	return nil
}

// GetJob retrieves a job by id.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, batch.ErrJobNotFound
	}
	return j.Clone(), nil
}

// DeleteJob removes a job record by id.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return batch.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt ascending.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !matches(j, opts) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// PendingJobs returns every job not in a terminal state.
func (m *Store) PendingJobs(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.Terminal() {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if matches(j, opts) {
			n++
		}
	}
	return n, nil
}

func matches(j *job.Job, opts job.ListOpts) bool {
	if opts.State != "" && j.State != opts.State {
		return false
	}
	if opts.Tag != "" {
		found := false
		for _, t := range j.Tags {
			if t == opts.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────
// Group store
// ──────────────────────────────────────────────────

// SaveGroup inserts or overwrites the group record keyed by its id.
func (m *Store) SaveGroup(_ context.Context, g *group.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID.String()] = g.Clone()
	return nil
}

// GetGroup retrieves a group by id.
func (m *Store) GetGroup(_ context.Context, groupID id.GroupID) (*group.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID.String()]
	if !ok {
		return nil, batch.ErrGroupNotFound
	}
	return g.Clone(), nil
}

// DeleteGroup removes a group record by id.
func (m *Store) DeleteGroup(_ context.Context, groupID id.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := groupID.String()
	if _, ok := m.groups[key]; !ok {
		return batch.ErrGroupNotFound
	}
	delete(m.groups, key)
	return nil
}

// ListGroups returns all group records ordered by CreatedAt ascending.
func (m *Store) ListGroups(_ context.Context) ([]*group.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*group.Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

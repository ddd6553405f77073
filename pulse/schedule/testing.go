package schedule

import (
	"context"
	"sync"

	"github.com/teranos/recwake/errors"
)

// MemoryStore is an in-process Store for tests of packages that drive a
// job through its lifecycle. It keeps every Put so tests can assert on
// the sequence of persisted states. FailPut, when set, is returned by Put
// instead of storing.
type MemoryStore struct {
	mu      sync.Mutex
	job     *Job
	history []*Job
	FailPut func(job *Job) error
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns a copy of the current job
func (m *MemoryStore) Get(ctx context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Clone(), nil
}

// Put validates and stores a copy of job
func (m *MemoryStore) Put(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		if err := m.FailPut(job); err != nil {
			return err
		}
	}
	if err := job.Check(); err != nil {
		return errors.Mark(err, ErrStoreWrite)
	}
	now := timeNow()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.job = job.Clone()
	m.history = append(m.history, job.Clone())
	return nil
}

// States returns the sequence of persisted states
func (m *MemoryStore) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, len(m.history))
	for i, j := range m.history {
		out[i] = j.State
	}
	return out
}

// Seed sets the current job without recording history, to simulate a
// record left by a previous process.
func (m *MemoryStore) Seed(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = job.Clone()
}

package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobMirror copies serialized job snapshots into the cache so that status
// polls can still be answered after the in-memory registry evicts a job.
//
// Only the newest pending snapshot of each job is kept. A burst of updates
// for one job collapses into a single write of its latest state, so memory
// is bounded by the number of jobs with unwritten changes and a terminal
// snapshot is never lost to an older one.
type JobMirror struct {
	cache Cache
	ttl   time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID][]byte
	order   []uuid.UUID
	wake    chan struct{}
}

func NewJobMirror(c Cache, ttl time.Duration) *JobMirror {
	return &JobMirror{
		cache:   c,
		ttl:     ttl,
		pending: make(map[uuid.UUID][]byte),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue schedules a write and never blocks. A snapshot still waiting for
// the same job is replaced.
func (m *JobMirror) Enqueue(jobID uuid.UUID, snapshot []byte) {
	m.mu.Lock()
	if _, queued := m.pending[jobID]; !queued {
		m.order = append(m.order, jobID)
	}
	m.pending[jobID] = snapshot
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many jobs have a snapshot waiting to be written.
func (m *JobMirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Run writes pending snapshots until ctx is done, then flushes what is left.
func (m *JobMirror) Run(ctx context.Context) {
	for {
		select {
		case <-m.wake:
			m.flush()
		case <-ctx.Done():
			m.flush()
			return
		}
	}
}

func (m *JobMirror) flush() {
	for {
		m.mu.Lock()
		if len(m.order) == 0 {
			m.mu.Unlock()
			return
		}
		jobID := m.order[0]
		m.order = m.order[1:]
		data := m.pending[jobID]
		delete(m.pending, jobID)
		m.mu.Unlock()

		m.write(jobID, data)
	}
}

// write uses its own deadline so that entries flushed during shutdown
// are not cancelled along with Run's context.
func (m *JobMirror) write(jobID uuid.UUID, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cache.SetJobSnapshot(ctx, jobID, data, m.ttl); err != nil {
		slog.Warn("mirror job snapshot", "job_id", jobID, "error", err)
	}
}

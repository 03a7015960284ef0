package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
)

// MaxMessageBytes bounds error text surfaced through job messages.
const MaxMessageBytes = 500

// Hook observes every committed change. prev is empty for a newly created job.
// Hooks run while the registry lock is held and must not block or call back
// into the registry.
type Hook func(prev Status, snap Snapshot)

// Registry is the in-memory owner of every Job. All mutations go through
// Update so that the broker sees changes in commit order.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*Job
	broker *Broker

	clock     clock.Clock
	retention time.Duration
	hooks     []Hook
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithRetention sets how long a terminal job stays readable before Sweep evicts it.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

func WithHook(h Hook) Option {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry publishing to broker.
func NewRegistry(broker *Broker, opts ...Option) *Registry {
	r := &Registry{
		jobs:      make(map[uuid.UUID]*Job),
		broker:    broker,
		clock:     clock.Real{},
		retention: 30 * time.Minute,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Broker returns the broker snapshots are published to.
func (r *Registry) Broker() *Broker { return r.broker }

// CreateParams describes a new job.
type CreateParams struct {
	Kind        Kind
	OwnerID     uuid.UUID
	TotalUnits  int
	ResourceKey string
	Message     string
	Extra       Extra
}

// Create allocates a pending job.
func (r *Registry) Create(p CreateParams) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(p)
}

// CreateExclusive allocates a pending job unless another active job already
// holds p.ResourceKey, in which case the holder is returned with ok=false.
func (r *Registry) CreateExclusive(p CreateParams) (snap Snapshot, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ResourceKey != "" {
		if holder := r.findActiveLocked(p.ResourceKey); holder != nil {
			return holder.snapshot(), false
		}
	}
	return r.createLocked(p), true
}

func (r *Registry) createLocked(p CreateParams) Snapshot {
	now := r.clock.Now().UTC()
	j := &Job{
		ID:          uuid.New(),
		Kind:        p.Kind,
		OwnerID:     p.OwnerID,
		Status:      StatusPending,
		TotalUnits:  max(p.TotalUnits, 0),
		Message:     p.Message,
		ResourceKey: p.ResourceKey,
		Extra:       p.Extra,
		version:     1,
		createdAt:   now,
		updatedAt:   now,
	}
	r.jobs[j.ID] = j
	snap := j.snapshot()
	for _, h := range r.hooks {
		h("", snap)
	}
	return snap
}

// Get returns the current snapshot for id.
func (r *Registry) Get(id uuid.UUID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Update applies fn to the job and publishes the result. It reports false
// when the job is unknown or already terminal; in both cases nothing changes.
// A status change that would move the job backwards is discarded while the
// rest of the update still applies.
func (r *Registry) Update(id uuid.UUID, fn func(*Job)) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	if j.Status.Terminal() {
		r.logger.Debug("update after terminal state ignored", "job_id", id, "status", j.Status)
		return j.snapshot(), false
	}

	draft := *j
	draft.Succeeded = append([]string(nil), j.Succeeded...)
	draft.Failed = append([]string(nil), j.Failed...)
	fn(&draft)

	if draft.Status != j.Status && !j.Status.canTransition(draft.Status) {
		r.logger.Warn("illegal job status transition dropped",
			"job_id", id, "from", j.Status, "to", draft.Status)
		draft.Status = j.Status
	}
	draft.ID, draft.Kind, draft.OwnerID, draft.ResourceKey = j.ID, j.Kind, j.OwnerID, j.ResourceKey
	draft.TotalUnits = max(draft.TotalUnits, 0)
	draft.ProcessedUnits = max(draft.ProcessedUnits, 0)

	now := r.clock.Now().UTC()
	draft.version = j.version + 1
	draft.updatedAt = now
	if draft.Status.Terminal() {
		draft.finishedAt = now
	}

	prev := j.Status
	*j = draft
	snap := j.snapshot()

	r.broker.Notify(id, snap)
	for _, h := range r.hooks {
		h(prev, snap)
	}
	return snap, true
}

// FindActiveForResource returns the first non-terminal job holding key.
// Pending jobs count as active: every job is dispatched on creation, so a
// pending job is one whose worker is about to start.
func (r *Registry) FindActiveForResource(key string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if j := r.findActiveLocked(key); j != nil {
		return j.snapshot(), true
	}
	return Snapshot{}, false
}

func (r *Registry) findActiveLocked(key string) *Job {
	if key == "" {
		return nil
	}
	for _, j := range r.jobs {
		if j.ResourceKey == key && !j.Status.Terminal() {
			return j
		}
	}
	return nil
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Sweep evicts jobs that have been terminal for at least the retention
// window and closes any subscriptions still attached to them.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().UTC().Add(-r.retention)

	r.mu.Lock()
	var evicted []uuid.UUID
	for id, j := range r.jobs {
		if !j.finishedAt.IsZero() && !j.finishedAt.After(cutoff) {
			delete(r.jobs, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.broker.CloseJob(id)
	}
	return len(evicted)
}

// RunJanitor calls Sweep every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("evicted finished jobs", "count", n)
			}
		}
	}
}

// Truncate shortens s to at most maxBytes without splitting a UTF-8 sequence.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

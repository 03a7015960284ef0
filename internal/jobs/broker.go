package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrIdle is returned by Subscription.Next when no snapshot arrived within the timeout.
	ErrIdle = errors.New("no snapshot within timeout")
	// ErrSubscriptionClosed is returned once a closed subscription has been drained.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Broker fans job snapshots out to every live subscription for a job id.
// Notify never blocks: each subscription buffers without bound.
type Broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscription]struct{}

	onCount func(delta int)
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithSubscriberGauge reports +1/-1 as subscriptions open and close.
func WithSubscriberGauge(fn func(delta int)) BrokerOption {
	return func(b *Broker) { b.onCount = fn }
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{subs: make(map[uuid.UUID]map[*Subscription]struct{})}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new queue for jobID. It receives every snapshot
// notified after this call returns.
func (b *Broker) Subscribe(jobID uuid.UUID) *Subscription {
	s := &Subscription{
		jobID:  jobID,
		broker: b,
		signal: make(chan struct{}, 1),
	}

	b.mu.Lock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	if b.onCount != nil {
		b.onCount(1)
	}
	return s
}

// Notify enqueues snap on every subscription for jobID.
func (b *Broker) Notify(jobID uuid.UUID, snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[jobID] {
		s.push(snap)
	}
}

// Subscribers returns the number of live subscriptions for jobID.
func (b *Broker) Subscribers(jobID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// CloseJob closes every subscription for jobID. Queued snapshots remain
// readable until drained.
func (b *Broker) CloseJob(jobID uuid.UUID) {
	b.mu.Lock()
	set := b.subs[jobID]
	delete(b.subs, jobID)
	b.mu.Unlock()

	for s := range set {
		s.markClosed()
		if b.onCount != nil {
			b.onCount(-1)
		}
	}
}

// CloseAll closes every subscription. Used at shutdown to end open streams.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	ids := make([]uuid.UUID, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.CloseJob(id)
	}
}

func (b *Broker) remove(s *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[s.jobID]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.jobID)
	}
	return true
}

// Subscription is one observer's queue of snapshots for one job.
type Subscription struct {
	jobID  uuid.UUID
	broker *Broker

	mu     sync.Mutex
	queue  []Snapshot
	closed bool
	signal chan struct{}
}

func (s *Subscription) JobID() uuid.UUID { return s.jobID }

func (s *Subscription) push(snap Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Snapshot, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		snap := s.queue[0]
		s.queue[0] = Snapshot{}
		s.queue = s.queue[1:]
		return snap, true, s.closed
	}
	return Snapshot{}, false, s.closed
}

// Next returns the oldest queued snapshot, waiting up to timeout for one to
// arrive. It returns ErrIdle on timeout, ErrSubscriptionClosed once the
// subscription is closed and drained, or the context error.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (Snapshot, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		snap, ok, closed := s.pop()
		if ok {
			return snap, nil
		}
		if closed {
			return Snapshot{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-timer.C:
			return Snapshot{}, ErrIdle
		case <-s.signal:
		}
	}
}

// Close detaches the subscription from the broker. Safe to call more than once.
func (s *Subscription) Close() {
	if s.broker.remove(s) && s.broker.onCount != nil {
		s.broker.onCount(-1)
	}
	s.markClosed()
}

// Package events turns job subscriptions into server-sent event streams.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
)

const (
	EventJobUpdate = "job_update"
	EventKeepalive = "keepalive"

	DefaultKeepalive = 30 * time.Second
)

// Event is one frame of a job stream. Snapshot is nil for keepalives.
type Event struct {
	Name     string
	Snapshot *jobs.Snapshot
}

// Source is the registry view the stream needs.
type Source interface {
	Get(id uuid.UUID) (jobs.Snapshot, bool)
	Broker() *jobs.Broker
}

// Stream replays a job's progress to one observer.
type Stream struct {
	source    Source
	keepalive time.Duration
}

func NewStream(source Source, keepalive time.Duration) *Stream {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Stream{source: source, keepalive: keepalive}
}

// Run emits the current snapshot of jobID followed by every later one
// until the job is terminal, ctx is done or emit fails. An unknown job
// yields no events and a nil error.
//
// The subscription is opened before the registry is read, so nothing
// committed after the initial read can be missed; queued snapshots that
// the initial read already covers are skipped by version.
func (s *Stream) Run(ctx context.Context, jobID uuid.UUID, emit func(Event) error) error {
	sub := s.source.Broker().Subscribe(jobID)
	defer sub.Close()

	current, ok := s.source.Get(jobID)
	if !ok {
		return nil
	}
	if err := emit(Event{Name: EventJobUpdate, Snapshot: &current}); err != nil {
		return err
	}
	if current.Status.Terminal() {
		return nil
	}
	last := current.Version

	for {
		snap, err := sub.Next(ctx, s.keepalive)
		switch {
		case errors.Is(err, jobs.ErrIdle):
			if err := emit(Event{Name: EventKeepalive}); err != nil {
				return err
			}
			continue
		case errors.Is(err, jobs.ErrSubscriptionClosed):
			return nil
		case err != nil:
			return err
		}

		if snap.Version <= last {
			continue
		}
		last = snap.Version
		if err := emit(Event{Name: EventJobUpdate, Snapshot: &snap}); err != nil {
			return err
		}
		if snap.Status.Terminal() {
			return nil
		}
	}
}

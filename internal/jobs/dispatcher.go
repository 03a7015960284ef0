package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher runs pipeline bodies detached from the request that created
// their job. Every body receives the dispatcher's context, which is
// cancelled when the process shuts down.
type Dispatcher struct {
	ctx      context.Context
	registry *Registry
	wg       sync.WaitGroup
}

func NewDispatcher(ctx context.Context, registry *Registry) *Dispatcher {
	return &Dispatcher{ctx: ctx, registry: registry}
}

// Go starts fn for jobID. Whatever fn does, the job ends in a terminal
// state: a returned error, a panic, or a return without a terminal update
// all mark the job failed.
func (d *Dispatcher) Go(jobID uuid.UUID, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logger := slog.With("job_id", jobID)

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in job worker", "error", rec, "stack", string(debug.Stack()))
				d.fail(jobID, fmt.Sprintf("internal error: %v", rec))
			}
		}()

		err := fn(d.ctx)
		if err != nil {
			logger.Error("job worker failed", "error", err)
			d.fail(jobID, err.Error())
			return
		}
		if snap, ok := d.registry.Get(jobID); ok && !snap.Status.Terminal() {
			logger.Error("job worker returned without a terminal state", "status", snap.Status)
			d.fail(jobID, "worker exited before finishing")
		}
	}()
}

func (d *Dispatcher) fail(jobID uuid.UUID, msg string) {
	d.registry.Update(jobID, func(j *Job) {
		j.Status = StatusFailed
		j.Message = Truncate(msg, MaxMessageBytes)
	})
}

// Wait blocks until every dispatched body has returned or timeout elapses.
// It reports whether all bodies finished.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

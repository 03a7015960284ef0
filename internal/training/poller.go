package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/deepmemory"
	"github.com/kiranshivaraju/kbforge/pkg/metrics"
)

var (
	ErrTrainingTimeout = errors.New("training timed out")
	ErrTrainingFailed  = errors.New("training failed")
)

// PollConfig is the status polling schedule: the wait starts at Base,
// doubles after every poll up to Max, and polling gives up once Deadline
// has passed since the first poll.
type PollConfig struct {
	Base     time.Duration
	Max      time.Duration
	Deadline time.Duration
}

// poller waits for an external training job to finish.
type poller struct {
	client   deepmemory.Client
	clock    clock.Clock
	cfg      PollConfig
	onStatus func(polls int, status string)
}

func (p *poller) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.cfg.Max,
		MaxElapsedTime:      p.cfg.Deadline,
		Stop:                backoff.Stop,
		Clock:               p.clock,
	}
	b.Reset()
	return b
}

// wait polls handle until the service reports success. It returns
// ErrTrainingFailed when the service reports failure and ErrTrainingTimeout
// once the deadline passes. Transport failures are retried on the same
// schedule.
func (p *poller) wait(ctx context.Context, handle string) (polls int, err error) {
	b := p.newBackOff()
	start := p.clock.Now()
	logger := slog.With("external_job_id", handle)

	for {
		if elapsed := p.clock.Now().Sub(start); elapsed > p.cfg.Deadline {
			return polls, fmt.Errorf("%w after %s", ErrTrainingTimeout, p.cfg.Deadline)
		}

		status, err := p.client.Status(ctx, handle)
		polls++
		switch {
		case err == nil:
			metrics.IncreaseTrainingPolls(status)
			logger.Info("training status", "status", status, "polls", polls)
			if p.onStatus != nil {
				p.onStatus(polls, status)
			}
		case errors.Is(err, deepmemory.ErrServiceUnreachable), errors.Is(err, deepmemory.ErrServiceTimeout):
			metrics.IncreaseTrainingPolls("unreachable")
			logger.Warn("training status unavailable, will retry", "error", err)
		default:
			return polls, fmt.Errorf("polling training status: %w", err)
		}

		switch status {
		case deepmemory.StatusCompleted, deepmemory.StatusSuccess:
			return polls, nil
		case deepmemory.StatusFailed, deepmemory.StatusError:
			return polls, fmt.Errorf("%w: service reported %q", ErrTrainingFailed, status)
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return polls, fmt.Errorf("%w after %s", ErrTrainingTimeout, p.cfg.Deadline)
		}
		if err := p.clock.Sleep(ctx, next); err != nil {
			return polls, err
		}
	}
}

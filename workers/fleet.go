package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"piobridge/types"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrBackfillPending is returned when a backfill ran out of retry rounds with events
// still unsettled, typically locks waiting for source finality.
var ErrBackfillPending = errors.New("backfilled events still pending")

// Fleet runs independent agents side by side. It only starts and stops them,
// agents never talk to each other.
type Fleet struct {
	agents []*Agent
}

func NewFleet(agents ...*Agent) *Fleet {
	return &Fleet{agents: agents}
}

func (f *Fleet) Agents() []*Agent {
	return append([]*Agent(nil), f.agents...)
}

// Run blocks until ctx is cancelled or an agent fails
func (f *Fleet) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range f.agents {
		a := a
		g.Go(func() error {
			return a.Run(ctx)
		})
	}
	return g.Wait()
}

// PollAll polls every agent once, in order
func (f *Fleet) PollAll(ctx context.Context) error {
	for _, a := range f.agents {
		if err := a.Poll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Backfill scans [from, to] with every agent, then retries what is left pending up to
// rounds times, waiting wait between rounds except before the first. Agents of one
// process usually wait on each other's source approvals.
func (f *Fleet) Backfill(ctx context.Context, from, to uint64, rounds int, wait time.Duration) error {
	r := BlockRange{From: from, To: to}

	var errs error
	for _, a := range f.agents {
		if err := a.Backfill(ctx, from, to); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("validator %s: %w", a.Validator().Hex(), err))
		}
	}
	if errs != nil {
		return errs
	}

	for round := 0; ; round++ {
		pending := f.pendingIn(r)
		if pending == 0 {
			return nil
		}
		if round >= rounds {
			return fmt.Errorf("%d events in %s after %d retry rounds: %w", pending, r, rounds, ErrBackfillPending)
		}

		if round > 0 && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		for _, a := range f.agents {
			if err := a.Retry(ctx, r); err != nil {
				return fmt.Errorf("validator %s: %w", a.Validator().Hex(), err)
			}
		}
	}
}

func (f *Fleet) pendingIn(r BlockRange) int {
	n := 0
	for _, a := range f.agents {
		n += a.PendingIn(r)
	}
	return n
}

func (f *Fleet) Statuses() []types.AgentStatus {
	res := make([]types.AgentStatus, 0, len(f.agents))
	for _, a := range f.agents {
		res = append(res, a.Status())
	}
	return res
}

package workers

import (
	"context"
	"fmt"
	"time"

	"piobridge/types"

	"go.uber.org/zap"
)

// Poll scans the Locked events of the current window and relays the new ones.
func (a *Agent) Poll(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.transition(evPoll)
	defer a.transition(evIdle)

	a.checkGasBalance(ctx)

	lastScanned, err := a.markers.LastScannedBlock()
	if err != nil {
		a.recordFailure(err)
		return fmt.Errorf("getting last scanned block: %w", err)
	}

	head, err := a.src.HeadBlock(ctx)
	if err != nil {
		a.recordFailure(err)
		return fmt.Errorf("getting source head: %w", err)
	}

	w := NextWindow(lastScanned, head, a.cfg.WindowSize)
	if w.Gap != nil {
		a.reportGap(*w.Gap, head)
	}

	a.logger.Debug("scanning source blocks", zap.Uint64("from", w.From), zap.Uint64("to", w.To))

	events, err := a.src.LockedEvents(ctx, w.From, w.To)
	if err != nil {
		a.recordFailure(err)
		return fmt.Errorf("querying Locked events %s: %w", w.BlockRange, err)
	}

	if err := a.process(ctx, events); err != nil {
		return err
	}

	// don't consider the window scanned if the store cannot remember it
	if err := a.markers.SetLastScannedBlock(w.To); err != nil {
		a.recordFailure(err)
		return fmt.Errorf("saving last scanned block: %w", err)
	}

	a.mu.Lock()
	a.lastSeen = w.To
	a.lastPolled = time.Now().Unix()
	a.mu.Unlock()
	lastScannedBlock.WithLabelValues(a.cfg.Validator.Hex()).Set(float64(w.To))

	return nil
}

func (a *Agent) reportGap(gap BlockRange, head uint64) {
	a.mu.Lock()
	a.gaps = append(a.gaps, gap)
	a.mu.Unlock()

	a.logger.Warn("source head moved past the polling window, blocks left for backfill",
		zap.Stringer("gap", gap),
		zap.Uint64("head", head))
	a.raise(types.AlertWindowGap, map[string]string{
		"from": fmt.Sprintf("%d", gap.From),
		"to":   fmt.Sprintf("%d", gap.To),
		"head": fmt.Sprintf("%d", head),
	})
}

// Backfill scans [from, to] in window sized batches. It does not move the polling
// position. Recorded gaps fully covered by the range are cleared once none of their
// events is left for retry.
func (a *Agent) Backfill(ctx context.Context, from, to uint64) error {
	if to < from {
		return fmt.Errorf("invalid backfill range [%d, %d]", from, to)
	}

	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.transition(evPoll)
	defer a.transition(evIdle)

	r := BlockRange{From: from, To: to}
	for _, batch := range Batches(r, a.cfg.WindowSize) {
		a.logger.Info("backfilling source blocks", zap.Stringer("range", batch))

		events, err := a.src.LockedEvents(ctx, batch.From, batch.To)
		if err != nil {
			a.recordFailure(err)
			return fmt.Errorf("querying Locked events %s: %w", batch, err)
		}
		if err := a.process(ctx, events); err != nil {
			return err
		}
	}

	a.clearGaps(r)
	return nil
}

// Retry runs the events left for retry once, without scanning. Gaps inside r that
// have nothing left pending are cleared.
func (a *Agent) Retry(ctx context.Context, r BlockRange) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.transition(evPoll)
	defer a.transition(evIdle)

	if err := a.process(ctx, nil); err != nil {
		return err
	}
	a.clearGaps(r)
	return nil
}

// PendingIn counts the events from blocks in r that are left for retry
func (a *Agent) PendingIn(r BlockRange) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingLocked(r)
}

func (a *Agent) clearGaps(r BlockRange) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.gaps[:0]
	for _, g := range a.gaps {
		if g.From >= r.From && g.To <= r.To && a.pendingLocked(g) == 0 {
			continue
		}
		kept = append(kept, g)
	}
	a.gaps = kept
}

// pendingLocked is PendingIn for callers holding a.mu
func (a *Agent) pendingLocked(r BlockRange) int {
	n := 0
	for _, ev := range a.retry {
		if ev.BlockNumber >= r.From && ev.BlockNumber <= r.To {
			n++
		}
	}
	return n
}

// BackfillGaps backfills every gap recorded so far
func (a *Agent) BackfillGaps(ctx context.Context) error {
	for _, g := range a.Gaps() {
		if err := a.Backfill(ctx, g.From, g.To); err != nil {
			return err
		}
	}
	return nil
}

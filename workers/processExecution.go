package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// processEvent relays one Locked event. A nil error means the event was marked
// processed; any other error leaves it unmarked for the next cycle.
func (a *Agent) processEvent(ctx context.Context, ev *types.LockedEvent) error {
	log := a.logger.With(zap.String("lockId", ev.LockID.Hex()), zap.Stringer("marker", ev.Marker()))

	count, err := a.dst.ApprovalCount(ctx, ev.LockID)
	if err != nil {
		return fmt.Errorf("getting destination approval count: %w", err)
	}
	if count >= uint64(a.cfg.Threshold) {
		return a.mark(ev, types.RelayStatusSettled, common.Hash{}, fmt.Sprintf("%d approvals on destination", count))
	}

	// never send a second approval, e.g. after a restart lost the markers
	approved, err := a.dst.HasApproved(ctx, ev.LockID, a.cfg.Validator)
	if err != nil {
		return fmt.Errorf("getting destination approval: %w", err)
	}
	if approved {
		return a.mark(ev, types.RelayStatusAlreadyApproved, common.Hash{}, "")
	}

	status, msg, err := a.approveSource(ctx, ev, log)
	if err != nil {
		return err
	}
	if status != "" {
		return a.mark(ev, status, common.Hash{}, msg)
	}

	log.Info("approving mint",
		zap.String("to", ev.Destination.Hex()),
		zap.String("amount", ev.Amount.String()))

	a.transition(evSubmit)
	txHash, err := a.dst.SubmitApproveMint(ctx, ev.LockID, ev.Destination, ev.Amount)
	if err != nil {
		return a.rejected(ev, err, log)
	}
	approvalsSubmitted.WithLabelValues(a.cfg.Validator.Hex(), types.CHAINKEY_DEST.String()).Inc()

	a.transition(evAwait)
	receipt, err := a.dst.WaitConfirmed(ctx, txHash)
	if err != nil {
		// if it lands anyway, the next cycle finds our approval on chain
		return fmt.Errorf("approveMint %s not confirmed: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		a.raise(types.AlertIntegrityCheck, map[string]string{
			"lockId": ev.LockID.Hex(),
			"txHash": txHash.Hex(),
			"reason": fmt.Sprintf("approveMint receipt status %d", receipt.Status),
		})
		return fmt.Errorf("approveMint %s failed on chain: %w", txHash.Hex(), types.ErrTransient)
	}

	if err := a.mark(ev, types.RelayStatusApproved, txHash, ""); err != nil {
		return err
	}

	for _, f := range a.cfg.Security.InspectReceipt(receipt, ev) {
		a.raise(f.Type, f.Data)
	}
	return nil
}

// approveSource adds this validator's approval on the lock ledger. A non-empty status
// means the event is done without a destination approval.
func (a *Agent) approveSource(ctx context.Context, ev *types.LockedEvent, log *zap.Logger) (string, string, error) {
	rec, err := a.src.GetLock(ctx, ev.LockID)
	if errors.Is(err, types.ErrUnknownLock) {
		a.raise(types.AlertIntegrityCheck, map[string]string{
			"lockId": ev.LockID.Hex(),
			"txHash": ev.TxHash.Hex(),
			"reason": "Locked event without lock record",
		})
		return types.RelayStatusRejected, "unknown lock", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("getting lock: %w", err)
	}

	if rec.Amount.Cmp(ev.Amount) != 0 || rec.Destination != ev.Destination {
		a.raise(types.AlertIntegrityCheck, map[string]string{
			"lockId":      ev.LockID.Hex(),
			"txHash":      ev.TxHash.Hex(),
			"reason":      "Locked event does not match lock record",
			"eventAmount": ev.Amount.String(),
			"lockAmount":  rec.Amount.String(),
		})
		return types.RelayStatusRejected, "event does not match lock record", nil
	}
	if rec.RolledBack {
		return types.RelayStatusStale, "rolled back on source", nil
	}

	if !rec.Finalized {
		approved, err := a.src.HasApprovedLock(ctx, ev.LockID, a.cfg.Validator)
		if err != nil {
			return "", "", fmt.Errorf("getting source approval: %w", err)
		}

		if !approved {
			log.Info("approving lock")

			a.transition(evSubmit)
			txHash, err := a.src.SubmitApproveLock(ctx, ev.LockID)
			switch {
			case err == nil:
				approvalsSubmitted.WithLabelValues(a.cfg.Validator.Hex(), types.CHAINKEY_SOURCE.String()).Inc()
				a.transition(evAwait)
				receipt, err := a.src.WaitConfirmed(ctx, txHash)
				if err != nil {
					return "", "", fmt.Errorf("approveLock %s not confirmed: %w", txHash.Hex(), err)
				}
				if receipt.Status != types.ReceiptStatusSuccessful {
					a.raise(types.AlertIntegrityCheck, map[string]string{
						"lockId": ev.LockID.Hex(),
						"txHash": txHash.Hex(),
						"reason": fmt.Sprintf("approveLock receipt status %d", receipt.Status),
					})
					return "", "", fmt.Errorf("approveLock %s failed on chain: %w", txHash.Hex(), types.ErrTransient)
				}
			case errors.Is(err, types.ErrAlreadyFinalized):
				// other validators got there first
			case errors.Is(err, types.ErrAlreadyRolledBack):
				return types.RelayStatusStale, "rolled back on source", nil
			default:
				return "", "", fmt.Errorf("approveLock: %w", err)
			}
			a.transition(evEvaluate)
		}
	}

	if !a.cfg.RequireSourceFinality || rec.Finalized {
		return "", "", nil
	}

	rec, err = a.src.GetLock(ctx, ev.LockID)
	if err != nil {
		return "", "", fmt.Errorf("getting lock: %w", err)
	}
	if rec.RolledBack {
		return types.RelayStatusStale, "rolled back on source", nil
	}
	if !rec.Finalized {
		return "", "", errAwaitingFinality
	}
	return "", "", nil
}

// rejected handles a failed approveMint submission
func (a *Agent) rejected(ev *types.LockedEvent, err error, log *zap.Logger) error {
	switch types.KindOf(err) {
	case types.KindConflict:
		a.raise(types.AlertApprovalConflict, map[string]string{
			"lockId": ev.LockID.Hex(),
			"to":     ev.Destination.Hex(),
			"amount": ev.Amount.String(),
			"error":  err.Error(),
		})
		return a.mark(ev, types.RelayStatusConflict, common.Hash{}, err.Error())
	case types.KindValidation, types.KindTiming:
		log.Error("approveMint rejected", zap.Error(err))
		return a.mark(ev, types.RelayStatusRejected, common.Hash{}, err.Error())
	default:
		return fmt.Errorf("approveMint: %w", err)
	}
}

func (a *Agent) mark(ev *types.LockedEvent, status string, txHash common.Hash, msg string) error {
	rec := &types.RelayRecord{
		Marker:      ev.Marker().String(),
		LockID:      ev.LockID.Hex(),
		Status:      status,
		Message:     msg,
		TsProcessed: time.Now().Unix(),
	}
	if txHash != (common.Hash{}) {
		rec.TxHash = txHash.Hex()
	}

	if err := a.markers.MarkProcessed(rec); err != nil {
		return fmt.Errorf("marking %s processed: %w", rec.Marker, err)
	}

	a.mu.Lock()
	a.processed++
	a.mu.Unlock()
	relayOutcomes.WithLabelValues(a.cfg.Validator.Hex(), status).Inc()

	a.logger.Info("event processed",
		zap.String("lockId", rec.LockID),
		zap.String("marker", rec.Marker),
		zap.String("status", status),
		zap.String("txHash", rec.TxHash),
		zap.String("message", msg))
	return nil
}

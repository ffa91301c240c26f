package ledger

import (
	"fmt"
	"math/big"
	"time"

	"piobridge/EVMRPC/bridgeabi"
	"piobridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
)

// default time after which an unfinalized lock may be reclaimed by its sender
const DefaultRollbackWindow = 24 * time.Hour

// gas schedule of the in-process contracts
const (
	gasLock        = 95000
	gasApproveLock = 52000
	gasFinalize    = 21000
	gasRollback    = 61000
	gasNoop        = 26000
)

type lockState struct {
	rec       types.LockRecord
	approvals map[common.Address]bool
}

func (s *lockState) snapshot() *types.LockRecord {
	rec := s.rec
	rec.Amount = new(big.Int).Set(s.rec.Amount)
	rec.Approvals = append([]common.Address(nil), s.rec.Approvals...)
	rec.ApprovalCount = uint64(len(rec.Approvals))
	return &rec
}

// SourceLedger keeps locked funds in custody until validators finalize the lock
// or the sender rolls it back after the rollback window.
type SourceLedger struct {
	chain          *Chain
	address        common.Address
	token          *Token
	validators     *types.ValidatorSet
	rollbackWindow time.Duration
	destChainID    uint64

	nonce uint64
	locks map[common.Hash]*lockState
}

func NewSourceLedger(chain *Chain, address common.Address, token *Token, validators *types.ValidatorSet, rollbackWindow time.Duration, destChainID uint64) *SourceLedger {
	return &SourceLedger{
		chain:          chain,
		address:        address,
		token:          token,
		validators:     validators,
		rollbackWindow: rollbackWindow,
		destChainID:    destChainID,
		locks:          make(map[common.Hash]*lockState),
	}
}

func (l *SourceLedger) Address() common.Address { return l.address }

func (l *SourceLedger) Chain() *Chain { return l.chain }

func (l *SourceLedger) RollbackWindow() time.Duration { return l.rollbackWindow }

// ParseDestination accepts only well-formed, non-zero hex addresses
func ParseDestination(destination string) (common.Address, error) {
	if !common.IsHexAddress(destination) {
		return common.Address{}, fmt.Errorf("%q: %w", destination, types.ErrInvalidDestination)
	}
	if err := ethav.Validate(destination); err != nil {
		return common.Address{}, fmt.Errorf("%q: %s: %w", destination, err.Error(), types.ErrInvalidDestination)
	}
	addr := common.HexToAddress(destination)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address: %w", types.ErrInvalidDestination)
	}
	return addr, nil
}

// Lock moves amount from sender into custody. The sender must have approved the
// ledger to spend amount beforehand.
func (l *SourceLedger) Lock(sender common.Address, amount *big.Int, destination string) (common.Hash, *types.TxReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, nil, fmt.Errorf("lock amount %v: %w", amount, types.ErrInvalidAmount)
	}
	dest, err := ParseDestination(destination)
	if err != nil {
		return common.Hash{}, nil, err
	}

	var lockID common.Hash
	receipt, err := l.chain.transact(sender, l.address, gasLock, func(t *tx) error {
		ts := t.now.Unix()
		id := bridgeabi.DeriveLockID(sender, l.nonce+1, amount, dest, ts)
		if _, exists := l.locks[id]; exists {
			// cannot happen with a fresh nonce, refuse rather than overwrite
			return fmt.Errorf("lock id %s already in use", id.Hex())
		}
		lg, err := bridgeabi.EncodeLocked(&types.LockedEvent{
			LockID:      id,
			Sender:      sender,
			Destination: dest,
			Amount:      amount,
			DestChainID: l.destChainID,
			Timestamp:   ts,
		})
		if err != nil {
			return err
		}

		// everything above is checked before custody moves, the call is all or nothing
		if err := l.token.transferFrom(l.address, sender, l.address, amount); err != nil {
			return err
		}
		l.nonce++
		lockID = id
		l.locks[id] = &lockState{
			rec: types.LockRecord{
				LockID:      id,
				Sender:      sender,
				Destination: dest,
				Amount:      new(big.Int).Set(amount),
				DestChainID: l.destChainID,
				CreatedAt:   ts,
			},
			approvals: make(map[common.Address]bool),
		}

		t.emit(lg)
		return nil
	})
	if err != nil {
		return common.Hash{}, nil, err
	}

	return lockID, receipt, nil
}

// ApproveLock records the caller's approval. Repeated approvals by the same validator
// are no-ops; reaching the threshold finalizes the lock.
func (l *SourceLedger) ApproveLock(validator common.Address, lockID common.Hash) (*types.TxReceipt, error) {
	if !l.validators.Contains(validator) {
		return nil, fmt.Errorf("%s: %w", validator.Hex(), types.ErrNotValidator)
	}

	return l.chain.transact(validator, l.address, gasApproveLock, func(t *tx) error {
		st, ok := l.locks[lockID]
		if !ok {
			return fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrUnknownLock)
		}
		if st.rec.RolledBack {
			return fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrAlreadyRolledBack)
		}
		if st.rec.Finalized {
			return fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrAlreadyFinalized)
		}
		if st.approvals[validator] {
			t.gasUsed = gasNoop
			return nil
		}

		st.approvals[validator] = true
		st.rec.Approvals = append(st.rec.Approvals, validator)
		t.emit(bridgeabi.EncodeApproval(bridgeabi.LockApprovalTopic(), &types.ApprovalEvent{LockID: lockID, Validator: validator}))

		if len(st.rec.Approvals) >= l.validators.Threshold() {
			st.rec.Finalized = true
			t.gasUsed += gasFinalize
			t.emit(bridgeabi.EncodeFinalized(lockID))
		}
		return nil
	})
}

// Rollback returns the funds of an unfinalized lock to its sender once the
// rollback window has fully elapsed.
func (l *SourceLedger) Rollback(sender common.Address, lockID common.Hash) (*types.TxReceipt, error) {
	return l.chain.transact(sender, l.address, gasRollback, func(t *tx) error {
		st, ok := l.locks[lockID]
		if !ok {
			return fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrUnknownLock)
		}
		if st.rec.Sender != sender {
			return fmt.Errorf("lock %s, caller %s: %w", lockID.Hex(), sender.Hex(), types.ErrNotSender)
		}
		if st.rec.Finalized {
			return fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrAlreadyFinalized)
		}
		if st.rec.RolledBack {
			return fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrAlreadyRolledBack)
		}
		elapsed := t.now.Sub(time.Unix(st.rec.CreatedAt, 0))
		if elapsed <= l.rollbackWindow {
			return fmt.Errorf("lock %s, %s elapsed of %s: %w", lockID.Hex(), elapsed, l.rollbackWindow, types.ErrTooEarly)
		}

		lg, err := bridgeabi.EncodeRolledBack(lockID, sender, st.rec.Amount)
		if err != nil {
			return err
		}
		if err := l.token.transfer(l.address, sender, st.rec.Amount); err != nil {
			return err
		}
		st.rec.RolledBack = true
		t.emit(lg)
		return nil
	})
}

func (l *SourceLedger) GetLock(lockID common.Hash) (*types.LockRecord, error) {
	var (
		rec *types.LockRecord
		err error
	)
	l.chain.view(func(_ time.Time) {
		st, ok := l.locks[lockID]
		if !ok {
			err = fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrUnknownLock)
			return
		}
		rec = st.snapshot()
	})
	return rec, err
}

func (l *SourceLedger) HasApproved(lockID common.Hash, validator common.Address) bool {
	var res bool
	l.chain.view(func(_ time.Time) {
		if st, ok := l.locks[lockID]; ok {
			res = st.approvals[validator]
		}
	})
	return res
}

func (l *SourceLedger) ApprovalCount(lockID common.Hash) uint64 {
	var res uint64
	l.chain.view(func(_ time.Time) {
		if st, ok := l.locks[lockID]; ok {
			res = uint64(len(st.rec.Approvals))
		}
	})
	return res
}

func (l *SourceLedger) ValidatorCount() int { return l.validators.Size() }

func (l *SourceLedger) Threshold() int { return l.validators.Threshold() }

// Custody is the token amount currently held by the ledger
func (l *SourceLedger) Custody() *big.Int {
	var res *big.Int
	l.chain.view(func(_ time.Time) { res = l.token.BalanceOf(l.address) })
	return res
}

package ledger

import (
	"fmt"
	"math/big"
	"time"

	"piobridge/EVMRPC/bridgeabi"
	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	gasApproveMint = 58000
	gasMint        = 51000
)

type mintState struct {
	to        common.Address
	amount    *big.Int
	approvals map[common.Address]bool
	order     []common.Address
	minted    bool
}

// DestinationLedger mints the wrapped token once enough distinct validators approved
// the same (to, amount) for a lock id. A lock id mints at most once.
type DestinationLedger struct {
	chain      *Chain
	address    common.Address
	wrapped    *Token
	validators *types.ValidatorSet

	requests map[common.Hash]*mintState
}

func NewDestinationLedger(chain *Chain, address common.Address, validators *types.ValidatorSet) *DestinationLedger {
	return &DestinationLedger{
		chain:      chain,
		address:    address,
		wrapped:    NewToken("wPIO"),
		validators: validators,
		requests:   make(map[common.Hash]*mintState),
	}
}

func (l *DestinationLedger) Address() common.Address { return l.address }

func (l *DestinationLedger) Chain() *Chain { return l.chain }

// ApproveMint counts the caller's approval for lockID. The first accepted approval fixes
// the canonical (to, amount); any later approval with another tuple fails with
// ErrApprovalConflict and changes nothing. Approvals after the mint are accepted no-ops.
func (l *DestinationLedger) ApproveMint(validator common.Address, lockID common.Hash, to common.Address, amount *big.Int) (*types.TxReceipt, error) {
	if !l.validators.Contains(validator) {
		return nil, fmt.Errorf("%s: %w", validator.Hex(), types.ErrNotValidator)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("mint amount %v: %w", amount, types.ErrInvalidAmount)
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("mint to zero address: %w", types.ErrInvalidDestination)
	}

	return l.chain.transact(validator, l.address, gasApproveMint, func(t *tx) error {
		st, ok := l.requests[lockID]
		if ok && (st.to != to || st.amount.Cmp(amount) != 0) {
			return fmt.Errorf("lock %s: canonical (%s, %s), got (%s, %s): %w",
				lockID.Hex(), st.to.Hex(), st.amount, to.Hex(), amount, types.ErrApprovalConflict)
		}
		if ok && (st.minted || st.approvals[validator]) {
			t.gasUsed = gasNoop
			return nil
		}

		if !ok {
			st = &mintState{
				to:        to,
				amount:    new(big.Int).Set(amount),
				approvals: make(map[common.Address]bool),
			}
		}

		var minted *ethtypes.Log
		if len(st.order)+1 >= l.validators.Threshold() {
			lg, err := bridgeabi.EncodeMinted(&types.MintedEvent{LockID: lockID, To: st.to, Amount: st.amount})
			if err != nil {
				return err
			}
			minted = &lg
		}

		l.requests[lockID] = st
		st.approvals[validator] = true
		st.order = append(st.order, validator)
		t.emit(bridgeabi.EncodeApproval(bridgeabi.MintApprovalTopic(), &types.ApprovalEvent{LockID: lockID, Validator: validator}))

		if minted != nil {
			l.wrapped.mint(st.to, st.amount)
			st.minted = true
			t.gasUsed += gasMint
			t.emit(*minted)
		}
		return nil
	})
}

func (l *DestinationLedger) ApprovalCount(lockID common.Hash) uint64 {
	var res uint64
	l.chain.view(func(_ time.Time) {
		if st, ok := l.requests[lockID]; ok {
			res = uint64(len(st.order))
		}
	})
	return res
}

func (l *DestinationLedger) HasApproved(lockID common.Hash, validator common.Address) bool {
	var res bool
	l.chain.view(func(_ time.Time) {
		if st, ok := l.requests[lockID]; ok {
			res = st.approvals[validator]
		}
	})
	return res
}

func (l *DestinationLedger) Minted(lockID common.Hash) bool {
	var res bool
	l.chain.view(func(_ time.Time) {
		if st, ok := l.requests[lockID]; ok {
			res = st.minted
		}
	})
	return res
}

// Request returns the mint approval record, nil if lockID was never approved.
func (l *DestinationLedger) Request(lockID common.Hash) *types.MintApproval {
	var res *types.MintApproval
	l.chain.view(func(_ time.Time) {
		st, ok := l.requests[lockID]
		if !ok {
			return
		}
		res = &types.MintApproval{
			LockID:        lockID,
			To:            st.to,
			Amount:        new(big.Int).Set(st.amount),
			Approvals:     append([]common.Address(nil), st.order...),
			ApprovalCount: uint64(len(st.order)),
			Minted:        st.minted,
		}
	})
	return res
}

func (l *DestinationLedger) BalanceOf(addr common.Address) *big.Int {
	var res *big.Int
	l.chain.view(func(_ time.Time) { res = l.wrapped.BalanceOf(addr) })
	return res
}

func (l *DestinationLedger) TotalSupply() *big.Int {
	var res *big.Int
	l.chain.view(func(_ time.Time) { res = l.wrapped.TotalSupply() })
	return res
}

func (l *DestinationLedger) ValidatorCount() int { return l.validators.Size() }

func (l *DestinationLedger) Threshold() int { return l.validators.Threshold() }

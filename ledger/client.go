package ledger

import (
	"context"
	"fmt"
	"math/big"

	"piobridge/EVMRPC/bridgeabi"
	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
)

// SourceClient is a view of the source ledger signed by one account, it satisfies
// the same interface the EVM client does so relayers run unchanged on either.
type SourceClient struct {
	ledger *SourceLedger
	from   common.Address
}

func NewSourceClient(ledger *SourceLedger, from common.Address) *SourceClient {
	return &SourceClient{ledger: ledger, from: from}
}

func (c *SourceClient) From() common.Address { return c.from }

func (c *SourceClient) HeadBlock(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.ledger.chain.HeadBlock(), nil
}

func (c *SourceClient) LockedEvents(ctx context.Context, from, to uint64) ([]*types.LockedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logs := c.ledger.chain.FilterLogs(c.ledger.address, bridgeabi.LockedTopic(), from, to)
	res := make([]*types.LockedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := bridgeabi.DecodeLocked(l)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, nil
}

func (c *SourceClient) GetLock(ctx context.Context, lockID common.Hash) (*types.LockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.GetLock(lockID)
}

func (c *SourceClient) HasApprovedLock(ctx context.Context, lockID common.Hash, validator common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.ledger.HasApproved(lockID, validator), nil
}

func (c *SourceClient) SubmitApproveLock(ctx context.Context, lockID common.Hash) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.ledger.ApproveLock(c.from, lockID)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

func (c *SourceClient) WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error) {
	return waitLocal(ctx, c.ledger.chain, txHash)
}

func (c *SourceClient) GasBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.chain.BalanceAt(addr), nil
}

// Lock is the user entry point, c must be signed by the depositor
func (c *SourceClient) Lock(ctx context.Context, amount *big.Int, destination string) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	lockID, _, err := c.ledger.Lock(c.from, amount, destination)
	return lockID, err
}

func (c *SourceClient) Rollback(ctx context.Context, lockID common.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.ledger.Rollback(c.from, lockID)
	return err
}

type DestinationClient struct {
	ledger *DestinationLedger
	from   common.Address
}

func NewDestinationClient(ledger *DestinationLedger, from common.Address) *DestinationClient {
	return &DestinationClient{ledger: ledger, from: from}
}

func (c *DestinationClient) From() common.Address { return c.from }

func (c *DestinationClient) ApprovalCount(ctx context.Context, lockID common.Hash) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.ledger.ApprovalCount(lockID), nil
}

func (c *DestinationClient) HasApproved(ctx context.Context, lockID common.Hash, validator common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.ledger.HasApproved(lockID, validator), nil
}

// MintStatus of a lock id never approved is an empty, unminted record
func (c *DestinationClient) MintStatus(ctx context.Context, lockID common.Hash) (*types.MintApproval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req := c.ledger.Request(lockID); req != nil {
		return req, nil
	}
	return &types.MintApproval{LockID: lockID, Amount: big.NewInt(0)}, nil
}

func (c *DestinationClient) SubmitApproveMint(ctx context.Context, lockID common.Hash, to common.Address, amount *big.Int) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.ledger.ApproveMint(c.from, lockID, to, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

func (c *DestinationClient) WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error) {
	return waitLocal(ctx, c.ledger.chain, txHash)
}

func (c *DestinationClient) GasBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.chain.BalanceAt(addr), nil
}

// instant seal: a submitted transaction is either sealed already or unknown
func waitLocal(ctx context.Context, chain *Chain, txHash common.Hash) (*types.TxReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receipt, ok := chain.Receipt(txHash)
	if !ok {
		return nil, fmt.Errorf("receipt %s not found on %s: %w", txHash.Hex(), chain, types.ErrTransient)
	}
	return receipt, nil
}

func (c *DestinationClient) WrappedBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.BalanceOf(addr), nil
}

func (c *SourceClient) Committee(ctx context.Context) (uint64, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return uint64(c.ledger.ValidatorCount()), uint64(c.ledger.Threshold()), nil
}

func (c *DestinationClient) Committee(ctx context.Context) (uint64, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return uint64(c.ledger.ValidatorCount()), uint64(c.ledger.Threshold()), nil
}

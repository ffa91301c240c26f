package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"piobridge/EVMRPC/bridgeabi"
	"piobridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// SourceClient talks to a deployed lock ledger, transactions are signed with key
type SourceClient struct {
	*Chain
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
}

// NewSourceClient returns a client for the lock ledger of chain. key may be nil for
// a read only client.
func NewSourceClient(chain *Chain, key *ecdsa.PrivateKey) (*SourceClient, error) {
	contract, err := contractAddress(chain)
	if err != nil {
		return nil, err
	}
	c := &SourceClient{Chain: chain, contract: contract, key: key}
	if key != nil {
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *SourceClient) From() common.Address { return c.from }

func (c *SourceClient) LockedEvents(ctx context.Context, from, to uint64) ([]*types.LockedEvent, error) {
	logs, err := WithClient(ctx, c.Chain, func(client *ethclient.Client) ([]ethtypes.Log, error) {
		return client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.contract},
			Topics:    [][]common.Hash{{bridgeabi.LockedTopic()}},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("filtering Locked logs %d-%d: %w", from, to, err)
	}

	res := make([]*types.LockedEvent, 0, len(logs))
	for _, l := range logs {
		// reorged out
		if l.Removed {
			continue
		}
		ev, err := bridgeabi.DecodeLocked(l)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, nil
}

func (c *SourceClient) GetLock(ctx context.Context, lockID common.Hash) (*types.LockRecord, error) {
	out, err := c.call(ctx, c.contract, bridgeabi.NewLockContract, "locks", lockID)
	if err != nil {
		return nil, err
	}
	if len(out) != 8 {
		return nil, fmt.Errorf("locks(%s): unexpected %d return values", lockID.Hex(), len(out))
	}

	rec := &types.LockRecord{
		LockID:        lockID,
		Sender:        *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Destination:   *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Amount:        *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		DestChainID:   (*abi.ConvertType(out[3], new(*big.Int)).(**big.Int)).Uint64(),
		CreatedAt:     (*abi.ConvertType(out[4], new(*big.Int)).(**big.Int)).Int64(),
		ApprovalCount: (*abi.ConvertType(out[5], new(*big.Int)).(**big.Int)).Uint64(),
		Finalized:     *abi.ConvertType(out[6], new(bool)).(*bool),
		RolledBack:    *abi.ConvertType(out[7], new(bool)).(*bool),
	}
	// storage of an unknown id reads as zeroes
	if rec.Sender == (common.Address{}) {
		return nil, fmt.Errorf("lock %s: %w", lockID.Hex(), types.ErrUnknownLock)
	}
	return rec, nil
}

func (c *SourceClient) HasApprovedLock(ctx context.Context, lockID common.Hash, validator common.Address) (bool, error) {
	return hasApproved(ctx, c.Chain, c.contract, bridgeabi.NewLockContract, lockID, validator)
}

func (c *SourceClient) SubmitApproveLock(ctx context.Context, lockID common.Hash) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("%s: read only client", c.Name())
	}
	return c.transact(ctx, c.key, c.contract, bridgeabi.NewLockContract, "approveLock", lockID)
}

// DestinationClient talks to a deployed mint ledger
type DestinationClient struct {
	*Chain
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
}

func NewDestinationClient(chain *Chain, key *ecdsa.PrivateKey) (*DestinationClient, error) {
	contract, err := contractAddress(chain)
	if err != nil {
		return nil, err
	}
	c := &DestinationClient{Chain: chain, contract: contract, key: key}
	if key != nil {
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *DestinationClient) From() common.Address { return c.from }

func (c *DestinationClient) ApprovalCount(ctx context.Context, lockID common.Hash) (uint64, error) {
	v, err := c.callUint(ctx, "approvalCount", lockID)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (c *DestinationClient) HasApproved(ctx context.Context, lockID common.Hash, validator common.Address) (bool, error) {
	return hasApproved(ctx, c.Chain, c.contract, bridgeabi.NewMintContract, lockID, validator)
}

func (c *DestinationClient) MintStatus(ctx context.Context, lockID common.Hash) (*types.MintApproval, error) {
	out, err := c.call(ctx, c.contract, bridgeabi.NewMintContract, "requests", lockID)
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("requests(%s): unexpected %d return values", lockID.Hex(), len(out))
	}
	return &types.MintApproval{
		LockID:        lockID,
		To:            *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Amount:        *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		ApprovalCount: (*abi.ConvertType(out[2], new(*big.Int)).(**big.Int)).Uint64(),
		Minted:        *abi.ConvertType(out[3], new(bool)).(*bool),
	}, nil
}

func (c *DestinationClient) SubmitApproveMint(ctx context.Context, lockID common.Hash, to common.Address, amount *big.Int) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("%s: read only client", c.Name())
	}
	return c.transact(ctx, c.key, c.contract, bridgeabi.NewMintContract, "approveMint", lockID, to, amount)
}

func (c *DestinationClient) WrappedBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.callUint(ctx, "balanceOf", addr)
}

func (c *DestinationClient) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, c.contract, bridgeabi.NewMintContract, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected %d return values", method, len(out))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func contractAddress(chain *Chain) (common.Address, error) {
	if !common.IsHexAddress(chain.cfg.Contract) {
		return common.Address{}, fmt.Errorf("%s: invalid contract address %q", chain.Name(), chain.cfg.Contract)
	}
	return common.HexToAddress(chain.cfg.Contract), nil
}

// both ledgers expose hasApproved(bytes32,address)
func hasApproved(ctx context.Context, chain *Chain, contract common.Address, newContract binder, lockID common.Hash, validator common.Address) (bool, error) {
	out, err := chain.call(ctx, contract, newContract, "hasApproved", lockID, validator)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("hasApproved: unexpected %d return values", len(out))
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *SourceClient) Committee(ctx context.Context) (uint64, uint64, error) {
	return committee(ctx, c.Chain, c.contract, bridgeabi.NewLockContract)
}

func (c *DestinationClient) Committee(ctx context.Context) (uint64, uint64, error) {
	return committee(ctx, c.Chain, c.contract, bridgeabi.NewMintContract)
}

// committee reads the validator count and approval threshold a ledger was deployed with
func committee(ctx context.Context, chain *Chain, contract common.Address, newContract binder) (uint64, uint64, error) {
	res := make([]uint64, 0, 2)
	for _, method := range []string{"validatorCount", "APPROVAL_THRESHOLD"} {
		out, err := chain.call(ctx, contract, newContract, method)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", method, err)
		}
		if len(out) != 1 {
			return 0, 0, fmt.Errorf("%s: unexpected %d return values", method, len(out))
		}
		res = append(res, (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64())
	}
	return res[0], res[1], nil
}

package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// deployer of the devnet contracts, addresses follow from its nonce like CREATE does
var devnetDeployer = common.HexToAddress("0x00000000000000000000000000000000000D3710")

type DevnetConfig struct {
	Validators     []common.Address
	Threshold      int
	RollbackWindow time.Duration
	SourceChainID  uint64
	DestChainID    uint64
	Clock          Clock
	// native balance every validator starts with on both chains
	GasBalance *big.Int
}

// Devnet wires a source chain (token + lock ledger) and a destination chain (mint
// ledger) in-process. The two ledgers share nothing but the validator set.
type Devnet struct {
	Source      *SourceLedger
	Destination *DestinationLedger
	Token       *TokenAccount
	Validators  *types.ValidatorSet
}

func NewDevnet(cfg DevnetConfig) (*Devnet, error) {
	set, err := types.NewValidatorSet(cfg.Validators, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if cfg.RollbackWindow == 0 {
		cfg.RollbackWindow = DefaultRollbackWindow
	}

	srcChain := NewChain("source", cfg.SourceChainID, cfg.Clock)
	dstChain := NewChain("destination", cfg.DestChainID, cfg.Clock)

	token := NewToken("PIO")
	tokenAddr := crypto.CreateAddress(devnetDeployer, 0)
	lockAddr := crypto.CreateAddress(devnetDeployer, 1)
	mintAddr := crypto.CreateAddress(devnetDeployer, 2)

	d := &Devnet{
		Source:      NewSourceLedger(srcChain, lockAddr, token, set, cfg.RollbackWindow, cfg.DestChainID),
		Destination: NewDestinationLedger(dstChain, mintAddr, set),
		Token:       NewTokenAccount(srcChain, token, tokenAddr),
		Validators:  set,
	}

	if cfg.GasBalance != nil {
		for _, v := range set.Keys() {
			srcChain.SetBalance(v, cfg.GasBalance)
			dstChain.SetBalance(v, cfg.GasBalance)
		}
	}

	return d, nil
}

// Deposit funds sender from the faucet, authorizes the lock ledger and locks amount.
func (d *Devnet) Deposit(ctx context.Context, sender common.Address, amount *big.Int, destination string) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("deposit amount %v: %w", amount, types.ErrInvalidAmount)
	}
	// nothing is funded for a deposit lock() would reject
	if _, err := ParseDestination(destination); err != nil {
		return common.Hash{}, err
	}
	if err := d.Token.Mint(sender, amount); err != nil {
		return common.Hash{}, err
	}
	if err := d.Token.Approve(sender, d.Source.Address(), amount); err != nil {
		return common.Hash{}, err
	}
	return NewSourceClient(d.Source, sender).Lock(ctx, amount, destination)
}

func (d *Devnet) SourceClient(from common.Address) *SourceClient {
	return NewSourceClient(d.Source, from)
}

func (d *Devnet) DestinationClient(from common.Address) *DestinationClient {
	return NewDestinationClient(d.Destination, from)
}

// Package ledger implements the lock (source) and mint (destination) ledgers as in-process
// contracts hosted on a minimal instant-seal chain. Every call runs under the chain's
// transaction lock, so calls are atomic and totally ordered like on a real chain.
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// same default gas limit the bridge sender uses for contract calls
const DefaultGasLimit = 200000

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to, rollback timing tests depend on it
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Chain seals one block per successful transaction. Failed calls revert and are not
// included, which is what a sender observes when gas estimation fails.
type Chain struct {
	name  string
	id    uint64
	clock Clock

	// GasLimit is attached to every sealed transaction
	GasLimit uint64

	mu       sync.Mutex
	head     uint64
	txCount  uint64
	logs     []ethtypes.Log
	receipts map[common.Hash]*types.TxReceipt
	balances map[common.Address]*big.Int
}

func NewChain(name string, id uint64, clock Clock) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Chain{
		name:     name,
		id:       id,
		clock:    clock,
		GasLimit: DefaultGasLimit,
		receipts: make(map[common.Hash]*types.TxReceipt),
		balances: make(map[common.Address]*big.Int),
	}
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) ChainID() uint64 { return c.id }

// tx is the execution context handed to contract code
type tx struct {
	from    common.Address
	address common.Address
	now     time.Time
	gasUsed uint64
	logs    []ethtypes.Log
}

func (t *tx) emit(l ethtypes.Log) {
	l.Address = t.address
	t.logs = append(t.logs, l)
}

// transact runs fn atomically. State mutated by fn is only visible once fn returned nil.
func (c *Chain) transact(from, contract common.Address, gas uint64, fn func(t *tx) error) (*types.TxReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &tx{from: from, address: contract, now: c.clock.Now(), gasUsed: gas}
	if err := fn(t); err != nil {
		return nil, err
	}

	c.head++
	c.txCount++
	hash := c.txHash(from)
	for n := range t.logs {
		t.logs[n].BlockNumber = c.head
		t.logs[n].TxHash = hash
		t.logs[n].TxIndex = 0
		t.logs[n].Index = uint(len(c.logs))
		c.logs = append(c.logs, t.logs[n])
	}

	receipt := &types.TxReceipt{
		TxHash:      hash,
		BlockNumber: c.head,
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     t.gasUsed,
		GasLimit:    c.GasLimit,
		Value:       big.NewInt(0),
	}
	if receipt.GasUsed > receipt.GasLimit {
		receipt.GasUsed = receipt.GasLimit
	}
	c.receipts[hash] = receipt

	return receipt, nil
}

// view runs a read-only fn under the chain lock
func (c *Chain) view(fn func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.clock.Now())
}

func (c *Chain) txHash(from common.Address) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], c.id)
	binary.BigEndian.PutUint64(buf[8:], c.txCount)
	return crypto.Keccak256Hash(buf[:], from.Bytes())
}

func (c *Chain) HeadBlock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Mine seals empty blocks, used to move the head past a polling window
func (c *Chain) Mine(blocks uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += blocks
}

// FilterLogs returns logs of contract with topic0 in the inclusive block range.
func (c *Chain) FilterLogs(contract common.Address, topic common.Hash, from, to uint64) []ethtypes.Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := make([]ethtypes.Log, 0)
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if l.Address != contract || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		res = append(res, l)
	}
	return res
}

func (c *Chain) Receipt(hash common.Hash) (*types.TxReceipt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, false
	}
	cp := *r
	cp.Value = new(big.Int).Set(r.Value)
	return &cp, true
}

func (c *Chain) SetBalance(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(amount)
}

// BalanceAt is the native (gas) balance of addr
func (c *Chain) BalanceAt(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (c *Chain) Probe(ctx context.Context) (*types.ChainHead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &types.ChainHead{Name: c.name, ChainID: c.id, Head: c.HeadBlock()}, nil
}

func (c *Chain) String() string {
	return fmt.Sprintf("%s(%d)", c.name, c.id)
}

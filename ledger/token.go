package ledger

import (
	"fmt"
	"math/big"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a minimal ERC-20 balance/allowance book. It carries no lock of its own,
// callers run it inside a chain transaction.
type Token struct {
	Symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

func NewToken(symbol string) *Token {
	return &Token{
		Symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     big.NewInt(0),
	}
}

func (t *Token) balance(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return big.NewInt(0)
}

func (t *Token) BalanceOf(addr common.Address) *big.Int {
	return new(big.Int).Set(t.balance(addr))
}

func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.supply)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

func (t *Token) mint(to common.Address, amount *big.Int) {
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
}

func (t *Token) approve(owner, spender common.Address, amount *big.Int) {
	if _, ok := t.allowances[owner]; !ok {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (t *Token) transfer(from, to common.Address, amount *big.Int) error {
	if t.balance(from).Cmp(amount) < 0 {
		return fmt.Errorf("%s balance of %s: %w", t.Symbol, from.Hex(), types.ErrInsufficientBalance)
	}
	t.balances[from] = new(big.Int).Sub(t.balance(from), amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

// transferFrom spends a pre-authorized allowance of spender
func (t *Token) transferFrom(spender, from, to common.Address, amount *big.Int) error {
	allowance := t.Allowance(from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%s allowance %s < %s: %w", t.Symbol, allowance, amount, types.ErrInsufficientAllowance)
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowance.Sub(allowance, amount)
	return nil
}

// TokenAccount exposes user-facing token calls of a token hosted on chain.
type TokenAccount struct {
	chain   *Chain
	token   *Token
	address common.Address
}

func NewTokenAccount(chain *Chain, token *Token, address common.Address) *TokenAccount {
	return &TokenAccount{chain: chain, token: token, address: address}
}

func (a *TokenAccount) Address() common.Address { return a.address }

// Mint is the faucet of the test token
func (a *TokenAccount) Mint(to common.Address, amount *big.Int) error {
	_, err := a.chain.transact(to, a.address, 50000, func(t *tx) error {
		a.token.mint(to, amount)
		return nil
	})
	return err
}

func (a *TokenAccount) Approve(owner, spender common.Address, amount *big.Int) error {
	_, err := a.chain.transact(owner, a.address, 46000, func(t *tx) error {
		a.token.approve(owner, spender, amount)
		return nil
	})
	return err
}

func (a *TokenAccount) BalanceOf(addr common.Address) *big.Int {
	var res *big.Int
	a.chain.view(func(_ time.Time) { res = a.token.BalanceOf(addr) })
	return res
}

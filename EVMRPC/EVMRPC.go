package EVMRPC

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"piobridge/config"
	"piobridge/types"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Chain is one EVM chain reachable through a list of RPC endpoints
type Chain struct {
	cfg    config.ChainConfig
	logger *zap.Logger
}

func NewChain(cfg config.ChainConfig, logger *zap.Logger) *Chain {
	return &Chain{cfg: cfg, logger: logger.With(zap.String("chain", cfg.Name))}
}

func (c *Chain) Name() string { return c.cfg.Name }

func (c *Chain) ChainID() uint64 { return c.cfg.ChainID }

// WithClient runs f against the endpoints in order until one succeeds, going over the
// list up to EVM_RETRIES times. Ledger errors
// (reverts) are returned right away, trying another endpoint would not change them.
func WithClient[T any](ctx context.Context, c *Chain, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(c.cfg.RPCList) == 0 {
		err = fmt.Errorf("%s: no RPC endpoints: %w", c.cfg.Name, types.ErrTransient)
		return
	}

	var client *ethclient.Client
	for attempt := 0; attempt < config.EVM_RETRIES; attempt++ {
		for _, url := range c.cfg.RPCList {
			client, err = ethclient.DialContext(ctx, url)
			if err != nil {
				c.logger.Warn("error connecting to RPC", zap.String("url", url), zap.Error(err))
				continue
			}

			res, err = f(client)
			client.Close()
			if err == nil || ctx.Err() != nil || types.KindOf(err) != types.KindTransient {
				return
			}
			c.logger.Debug("RPC call failed, trying next endpoint",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	return
}

// revertReason maps a failed call back onto the ledger sentinel it reverted with,
// either as a custom error selector or as a revert string.
func revertReason(err error) error {
	if err == nil {
		return nil
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if b, decErr := hexutil.Decode(data); decErr == nil && len(b) >= 4 {
				for _, s := range types.Sentinels() {
					if bytes.Equal(b[:4], crypto.Keccak256([]byte(s.Error() + "()"))[:4]) {
						return fmt.Errorf("%s: %w", err.Error(), s)
					}
				}
			}
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "execution reverted") {
		for _, s := range types.Sentinels() {
			if strings.Contains(msg, s.Error()) {
				return fmt.Errorf("%s: %w", msg, s)
			}
		}
	}
	return err
}

// binder attaches a ledger interface to a deployed address, bridgeabi.NewLockContract
// or bridgeabi.NewMintContract
type binder func(address common.Address, backend bind.ContractBackend) *bind.BoundContract

// transact signs and sends method on contract. The call is simulated first so ledger
// rejections come back as errors instead of failed transactions.
func (c *Chain) transact(ctx context.Context, key *ecdsa.PrivateKey, contract common.Address, newContract binder, method string, args ...interface{}) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	return WithClient(ctx, c, func(client *ethclient.Client) (common.Hash, error) {
		bound := newContract(contract, client)

		var out []interface{}
		if err := bound.Call(&bind.CallOpts{Context: ctx, From: from}, &out, method, args...); err != nil {
			return common.Hash{}, revertReason(err)
		}

		nonce, err := client.PendingNonceAt(ctx, from)
		if err != nil {
			return common.Hash{}, fmt.Errorf("error getting nonce for wallet: %w", err)
		}

		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("error getting suggested gas price: %w", err)
		}

		auth, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(c.cfg.ChainID))
		if err != nil {
			return common.Hash{}, fmt.Errorf("error instantiating contract call: %w", err)
		}
		auth.Context = ctx
		auth.Nonce = new(big.Int).SetUint64(nonce)
		auth.Value = big.NewInt(0)
		auth.GasLimit = c.cfg.GasLimit
		if c.cfg.GasPriceMultiplier > 1 {
			auth.GasPrice = gasPrice.Mul(gasPrice, big.NewInt(c.cfg.GasPriceMultiplier))
		} else {
			auth.GasPrice = gasPrice
		}

		tx, err := bound.Transact(auth, method, args...)
		if err != nil {
			return common.Hash{}, revertReason(fmt.Errorf("error calling %s method: %w", method, err))
		}

		c.logger.Info("transaction sent",
			zap.String("method", method),
			zap.String("txHash", tx.Hash().Hex()),
			zap.Uint64("nonce", nonce),
			zap.String("gasPrice", auth.GasPrice.String()))
		return tx.Hash(), nil
	})
}

func (c *Chain) HeadBlock(ctx context.Context) (uint64, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

func (c *Chain) GasBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, addr, nil)
	})
}

func (c *Chain) call(ctx context.Context, contract common.Address, newContract binder, method string, args ...interface{}) ([]interface{}, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) ([]interface{}, error) {
		var out []interface{}
		if err := newContract(contract, client).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
			return nil, revertReason(err)
		}
		return out, nil
	})
}

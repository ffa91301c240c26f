package EVMRPC

import (
	"context"
	"fmt"
	"time"

	"piobridge/config"
	"piobridge/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// WaitConfirmed polls for the receipt of txHash with exponential backoff until it is
// mined or the confirm timeout elapsed.
func (c *Chain) WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error) {
	eb := backoff.NewExponentialBackOff()
	// backoff treats zero as no limit
	eb.MaxElapsedTime = c.cfg.ConfirmTimeout
	if eb.MaxElapsedTime <= 0 {
		eb.MaxElapsedTime = config.DefaultConfirmTimeout
	}

	op := func() (*types.TxReceipt, error) {
		return WithClient(ctx, c, func(client *ethclient.Client) (*types.TxReceipt, error) {
			receipt, err := client.TransactionReceipt(ctx, txHash)
			if err != nil {
				return nil, err
			}
			tx, _, err := client.TransactionByHash(ctx, txHash)
			if err != nil {
				return nil, err
			}
			return &types.TxReceipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Status:      receipt.Status,
				GasUsed:     receipt.GasUsed,
				GasLimit:    tx.Gas(),
				Value:       tx.Value(),
			}, nil
		})
	}

	notify := func(err error, next time.Duration) {
		c.logger.Debug("transaction not confirmed yet",
			zap.String("txHash", txHash.Hex()),
			zap.Duration("retryIn", next),
			zap.Error(err))
	}

	receipt, err := backoff.RetryNotifyWithData(op, backoff.WithContext(eb, ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w: %w", txHash.Hex(), err, types.ErrTransient)
	}
	return receipt, nil
}

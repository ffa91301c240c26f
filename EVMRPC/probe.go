package EVMRPC

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ybbus/jsonrpc"
	"go.uber.org/zap"
)

// Probe reads chain id and head with raw JSON-RPC, used by the /state endpoint so
// a health check never opens a full ethclient.
type Probe struct {
	chain   *Chain
	clients []jsonrpc.RPCClient
}

// per endpoint limit, a hung node must not stall /state
const probeTimeout = 5 * time.Second

func NewProbe(chain *Chain) *Probe {
	return newProbe(chain, probeTimeout)
}

func newProbe(chain *Chain, timeout time.Duration) *Probe {
	p := &Probe{chain: chain}
	httpClient := &http.Client{Timeout: timeout}
	for _, url := range chain.cfg.RPCList {
		p.clients = append(p.clients, jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient: httpClient,
		}))
	}
	return p
}

func (p *Probe) Probe(ctx context.Context) (*types.ChainHead, error) {
	var lastErr error
	for n, client := range p.clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		head, err := probeContext(ctx, client)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			if head.ChainID != p.chain.cfg.ChainID {
				return nil, fmt.Errorf("%s: endpoint %d serves chain %d, want %d", p.chain.Name(), n, head.ChainID, p.chain.cfg.ChainID)
			}
			head.Name = p.chain.Name()
			return head, nil
		}
		p.chain.logger.Warn("chain probe failed", zap.Int("endpoint", n), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no RPC endpoints", p.chain.Name())
	}
	return nil, fmt.Errorf("%w: %w", lastErr, types.ErrTransient)
}

type probeResult struct {
	head *types.ChainHead
	err  error
}

// probeContext returns when ctx is done even if the endpoint still holds the request,
// the HTTP client timeout ends it later.
func probeContext(ctx context.Context, client jsonrpc.RPCClient) (*types.ChainHead, error) {
	done := make(chan probeResult, 1)
	go func() {
		head, err := probe(client)
		done <- probeResult{head: head, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.head, r.err
	}
}

func probe(client jsonrpc.RPCClient) (*types.ChainHead, error) {
	var chainID, head string
	if err := client.CallFor(&chainID, "eth_chainId"); err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	if err := client.CallFor(&head, "eth_blockNumber"); err != nil {
		return nil, fmt.Errorf("eth_blockNumber: %w", err)
	}

	id, err := hexutil.DecodeUint64(chainID)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId %q: %w", chainID, err)
	}
	n, err := hexutil.DecodeUint64(head)
	if err != nil {
		return nil, fmt.Errorf("eth_blockNumber %q: %w", head, err)
	}
	return &types.ChainHead{ChainID: id, Head: n}, nil
}

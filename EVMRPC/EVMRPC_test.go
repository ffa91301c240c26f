package EVMRPC

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"piobridge/config"
	"piobridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func TestRevertReason(t *testing.T) {
	selector := hexutil.Encode(crypto.Keccak256([]byte("ApprovalConflict()"))[:4])

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "custom error selector", err: &dataError{msg: "execution reverted", data: selector}, want: types.ErrApprovalConflict},
		{name: "revert string", err: errors.New("execution reverted: TooEarly"), want: types.ErrTooEarly},
		{name: "wrapped revert string", err: fmt.Errorf("call: %w", errors.New("execution reverted: NotValidator")), want: types.ErrNotValidator},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, revertReason(tc.err), tc.want)
		})
	}

	t.Run("network error stays transient", func(t *testing.T) {
		err := revertReason(errors.New("connection refused"))
		assert.Equal(t, types.KindTransient, types.KindOf(err))
	})
	t.Run("unknown selector", func(t *testing.T) {
		err := revertReason(&dataError{msg: "execution reverted", data: "0xdeadbeef"})
		assert.Equal(t, types.KindTransient, types.KindOf(err))
	})
	assert.NoError(t, revertReason(nil))
}

func rpcServer(t *testing.T, chainID, head uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     interface{} `json:"id"`
			Method string      `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result string
		switch req.Method {
		case "eth_chainId":
			result = hexutil.EncodeUint64(chainID)
		case "eth_blockNumber":
			result = hexutil.EncodeUint64(head)
		default:
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe(t *testing.T) {
	srv := rpcServer(t, 5080, 1234)

	chain := NewChain(config.ChainConfig{
		Name:    "pio",
		ChainID: 5080,
		// first endpoint is down, the probe moves on
		RPCList: []string{"http://127.0.0.1:1", srv.URL},
	}, zap.NewNop())

	head, err := NewProbe(chain).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &types.ChainHead{Name: "pio", ChainID: 5080, Head: 1234}, head)
}

func TestProbeWrongChain(t *testing.T) {
	srv := rpcServer(t, 1, 10)

	chain := NewChain(config.ChainConfig{Name: "pio", ChainID: 5080, RPCList: []string{srv.URL}}, zap.NewNop())
	_, err := NewProbe(chain).Probe(context.Background())
	assert.ErrorContains(t, err, "serves chain 1")
}

func TestProbeNoEndpoints(t *testing.T) {
	chain := NewChain(config.ChainConfig{Name: "pio", ChainID: 5080}, zap.NewNop())
	_, err := NewProbe(chain).Probe(context.Background())
	assert.ErrorIs(t, err, types.ErrTransient)
}

// hungServer accepts requests and never answers them
func hungServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	// cleanups run in reverse, release before Close waits on the handlers
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func TestChainHeadSkipsHungEndpoint(t *testing.T) {
	hung := hungServer(t)
	srv := rpcServer(t, 5080, 77)

	chain := NewChain(config.ChainConfig{Name: "pio", ChainID: 5080, RPCList: []string{hung.URL, srv.URL}}, zap.NewNop())

	start := time.Now()
	head, err := newProbe(chain, 100*time.Millisecond).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77), head.Head)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChainHeadHonoursContext(t *testing.T) {
	hung := hungServer(t)
	chain := NewChain(config.ChainConfig{Name: "pio", ChainID: 5080, RPCList: []string{hung.URL}}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewProbe(chain).Probe(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientsNeedContract(t *testing.T) {
	chain := NewChain(config.ChainConfig{Name: "pio", Contract: "nope"}, zap.NewNop())

	_, err := NewSourceClient(chain, nil)
	assert.ErrorContains(t, err, "invalid contract address")
	_, err = NewDestinationClient(chain, nil)
	assert.ErrorContains(t, err, "invalid contract address")
}

func TestReadOnlyClientRefusesToSign(t *testing.T) {
	chain := NewChain(config.ChainConfig{Name: "pio", Contract: "0x785632deA5609064803B1c8EA8bB2c77a6004Bd1"}, zap.NewNop())

	src, err := NewSourceClient(chain, nil)
	require.NoError(t, err)
	_, err = src.SubmitApproveLock(context.Background(), crypto.Keccak256Hash([]byte("lock")))
	assert.ErrorContains(t, err, "read only")
}

func TestWithClientWithoutEndpoints(t *testing.T) {
	chain := NewChain(config.ChainConfig{Name: "pio"}, zap.NewNop())
	_, err := chain.HeadBlock(context.Background())
	assert.ErrorIs(t, err, types.ErrTransient)
}

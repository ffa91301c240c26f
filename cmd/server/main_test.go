package main

import (
	"context"
	"math/big"
	"testing"

	"piobridge/config"
	"piobridge/workers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func devnetConfig(t *testing.T) *config.Configuration {
	t.Helper()
	keys, err := devnetKeys()
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, checkDevnetConfig(keys)(cfg))
	return cfg
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestDevnetKeysAreStable(t *testing.T) {
	first, err := devnetKeys()
	require.NoError(t, err)
	second, err := devnetKeys()
	require.NoError(t, err)

	require.Len(t, first, 5)
	seen := make(map[common.Address]bool)
	for n := range first {
		addr := crypto.PubkeyToAddress(first[n].PublicKey)
		assert.Equal(t, addr, crypto.PubkeyToAddress(second[n].PublicKey))
		seen[addr] = true
	}
	assert.Len(t, seen, 5)
}

func TestDevnetConfig(t *testing.T) {
	cfg := devnetConfig(t)

	assert.Len(t, cfg.Bridge.Validators, 5)
	assert.Equal(t, uint64(5080), cfg.Source.ChainID)
	assert.Equal(t, uint64(11155111), cfg.Destination.ChainID)

	ac := agentConfig(cfg, common.HexToAddress(cfg.Bridge.Validators[0]))
	assert.Equal(t, cfg.Bridge.Threshold, ac.Threshold)
	assert.True(t, ac.RequireSourceFinality)
	assert.Equal(t, config.DefaultLargeValue, ac.Security.LargeValue.String())
	assert.Nil(t, ac.MinGasBalance)
}

func TestDevnetRelaysDeposit(t *testing.T) {
	cfg := devnetConfig(t)
	keys, err := devnetKeys()
	require.NoError(t, err)

	store := workers.NewMemoryAlerts(alertsKept)
	d, err := buildDevnet(cfg, keys, store, store, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	user := common.HexToAddress("0xAF3503dBD2E37518ab04D7CE78b630F98b15b78a")
	dest := common.HexToAddress("0x785632deA5609064803B1c8EA8bB2c77a6004Bd1")
	lockID, err := d.api.Locker.Deposit(ctx, user, tokens(3), dest.Hex())
	require.NoError(t, err)

	// source finality gating needs a second round for the first two agents
	require.NoError(t, d.fleet.PollAll(ctx))
	require.NoError(t, d.fleet.PollAll(ctx))

	assert.True(t, d.net.Destination.Minted(lockID))
	assert.Equal(t, tokens(3).String(), d.net.Destination.BalanceOf(dest).String())
	for _, st := range d.fleet.Statuses() {
		assert.Equal(t, uint64(1), st.Processed)
		assert.Equal(t, 0, st.Retrying)
	}
}

func TestCheckCommittee(t *testing.T) {
	cfg := devnetConfig(t)
	keys, err := devnetKeys()
	require.NoError(t, err)
	d, err := buildDevnet(cfg, keys, nil, nil, zap.NewNop())
	require.NoError(t, err)

	ledgers := []committeeReader{d.net.SourceClient(common.Address{}), d.net.DestinationClient(common.Address{})}
	assert.NoError(t, checkCommittee(context.Background(), cfg, ledgers))

	cfg.Bridge.Threshold = 4
	assert.ErrorContains(t, checkCommittee(context.Background(), cfg, ledgers), "threshold 3")
}

package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"piobridge/config"
	"piobridge/ledger"
	"piobridge/types"
	"piobridge/workers"
	"piobridge/workers/handlers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DevnetCmd runs both ledgers in-process with five local validators, POST /lock
// deposits on behalf of any sender.
var DevnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Run an in-process source and destination ledger with a full validator committee",
	Run:   runDevnet,
}

// native balance every devnet validator starts with, 100 coins
var devnetGasBalance = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

// devnetKeys derives the committee keys from fixed seeds so addresses are stable
// across runs.
func devnetKeys() ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, types.ValidatorCount)
	for i := 0; i < types.ValidatorCount; i++ {
		key, err := crypto.ToECDSA(crypto.Keccak256([]byte(fmt.Sprintf("piobridge devnet validator %d", i))))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func checkDevnetConfig(keys []*ecdsa.PrivateKey) func(cfg *config.Configuration) error {
	return func(cfg *config.Configuration) error {
		cfg.Bridge.Validators = cfg.Bridge.Validators[:0]
		for _, k := range keys {
			cfg.Bridge.Validators = append(cfg.Bridge.Validators, crypto.PubkeyToAddress(k.PublicKey).Hex())
		}
		cfg.ValidatorKeys = nil
		if cfg.Source.ChainID == 0 {
			cfg.Source.ChainID = 5080
		}
		if cfg.Destination.ChainID == 0 {
			cfg.Destination.ChainID = 11155111
		}
		return cfg.Validate()
	}
}

type devnet struct {
	net   *ledger.Devnet
	fleet *workers.Fleet
	api   *handlers.API
}

func buildDevnet(cfg *config.Configuration, keys []*ecdsa.PrivateKey, alerts workers.AlertSink, store workers.AlertReader, logger *zap.Logger) (*devnet, error) {
	validators, err := cfg.ValidatorAddresses()
	if err != nil {
		return nil, err
	}

	net, err := ledger.NewDevnet(ledger.DevnetConfig{
		Validators:     validators,
		Threshold:      cfg.Bridge.Threshold,
		RollbackWindow: cfg.Bridge.RollbackWindow,
		SourceChainID:  cfg.Source.ChainID,
		DestChainID:    cfg.Destination.ChainID,
		Clock:          ledger.SystemClock{},
		GasBalance:     devnetGasBalance,
	})
	if err != nil {
		return nil, err
	}

	agents := make([]*workers.Agent, 0, len(keys))
	for _, key := range keys {
		validator := crypto.PubkeyToAddress(key.PublicKey)
		agents = append(agents, workers.NewAgent(
			agentConfig(cfg, validator),
			net.SourceClient(validator),
			net.DestinationClient(validator),
			workers.NewMemoryMarkers(),
			alerts,
			logger,
		))
	}
	fleet := workers.NewFleet(agents...)

	return &devnet{
		net:   net,
		fleet: fleet,
		api: &handlers.API{
			Locks:  net.SourceClient(common.Address{}),
			Mints:  net.DestinationClient(common.Address{}),
			Agents: fleet,
			Alerts: store,
			Probes: []handlers.ChainProbe{net.Source.Chain(), net.Destination.Chain()},
			Locker: net,
			Logger: logger,
		},
	}, nil
}

func runDevnet(cmd *cobra.Command, args []string) {
	keys, err := devnetKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot derive devnet keys: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig(checkDevnetConfig(keys))
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := workers.NewMemoryAlerts(alertsKept)
	alerts, closeAlerts := alertSinks(cfg, store, logger)
	defer closeAlerts()

	d, err := buildDevnet(cfg, keys, alerts, store, logger)
	if err != nil {
		logger.Fatal("cannot build devnet", zap.Error(err))
	}
	if err := checkCommittee(ctx, cfg, []committeeReader{d.net.SourceClient(common.Address{}), d.net.DestinationClient(common.Address{})}); err != nil {
		logger.Fatal("devnet committee does not match configuration", zap.Error(err))
	}
	for _, v := range cfg.Bridge.Validators {
		logger.Info("devnet validator", zap.String("address", v))
	}
	logger.Info("devnet ledgers deployed",
		zap.String("lockLedger", d.net.Source.Address().Hex()),
		zap.String("mintLedger", d.net.Destination.Address().Hex()),
		zap.String("token", d.net.Token.Address().Hex()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.fleet.Run(ctx)
	})
	g.Go(func() error {
		return workers.Worker_HTTP(ctx, httpConfig(cfg), d.api, logger)
	})
	if err := g.Wait(); err != nil {
		logger.Error("devnet stopped", zap.Error(err))
		return
	}
	logger.Info("devnet stopped")
}

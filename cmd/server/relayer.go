package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"piobridge/EVMRPC"
	"piobridge/config"
	"piobridge/redis"
	"piobridge/workers"
	"piobridge/workers/handlers"

	"github.com/ethereum/go-ethereum/crypto"
	redigo "github.com/gomodule/redigo/redis"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RelayerCmd runs one agent per configured validator key against the EVM chains
var RelayerCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Run the validator relayers and the API server",
	Run:   runRelayer,
}

// maximum number of alerts kept in Redis
const alertsKept = 1000

func checkRelayerConfig(cfg *config.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.ValidateChains()
}

type committeeReader interface {
	Committee(ctx context.Context) (uint64, uint64, error)
}

type relayer struct {
	fleet *workers.Fleet
	api   *handlers.API
	// read only clients of both ledgers
	ledgers []committeeReader
}

// buildRelayer wires the EVM clients, Redis markers and alert sinks into a fleet
func buildRelayer(cfg *config.Configuration, pool *redigo.Pool, alerts workers.AlertSink, logger *zap.Logger) (*relayer, error) {
	signers, err := cfg.Signers()
	if err != nil {
		return nil, err
	}

	source := EVMRPC.NewChain(cfg.Source, logger)
	dest := EVMRPC.NewChain(cfg.Destination, logger)

	agents := make([]*workers.Agent, 0, len(signers))
	for _, key := range signers {
		src, err := EVMRPC.NewSourceClient(source, key)
		if err != nil {
			return nil, err
		}
		dst, err := EVMRPC.NewDestinationClient(dest, key)
		if err != nil {
			return nil, err
		}

		validator := crypto.PubkeyToAddress(key.PublicKey)
		markers := redis.NewMarkerStore(pool, validator)
		agents = append(agents, workers.NewAgent(agentConfig(cfg, validator), src, dst, markers, alerts, logger))
	}
	fleet := workers.NewFleet(agents...)

	locks, err := EVMRPC.NewSourceClient(source, nil)
	if err != nil {
		return nil, err
	}
	mints, err := EVMRPC.NewDestinationClient(dest, nil)
	if err != nil {
		return nil, err
	}

	return &relayer{
		fleet:   fleet,
		ledgers: []committeeReader{locks, mints},
		api: &handlers.API{
			Locks:  locks,
			Mints:  mints,
			Agents: fleet,
			Alerts: redis.NewAlertStore(pool, alertsKept),
			Probes: []handlers.ChainProbe{EVMRPC.NewProbe(source), EVMRPC.NewProbe(dest)},
			Logger: logger,
		},
	}, nil
}

func connectRedis(cfg *config.Configuration, logger *zap.Logger) *redigo.Pool {
	pool := redis.NewPool(cfg.Server.RedisHost, cfg.Server.RedisPort, cfg.Server.RedisDB)
	// without persistence do not continue
	if err := redis.Ping(pool); err != nil {
		logger.Fatal("cannot connect to Redis",
			zap.String("host", cfg.Server.RedisHost),
			zap.Int("port", cfg.Server.RedisPort),
			zap.Error(err))
	}
	return pool
}

func runRelayer(cmd *cobra.Command, args []string) {
	cfg := loadConfig(checkRelayerConfig)
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("starting PIO bridge relayer",
		zap.String("source", cfg.Source.Name),
		zap.String("destination", cfg.Destination.Name),
		zap.Int("validatorKeys", len(cfg.ValidatorKeys)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := connectRedis(cfg, logger)
	defer pool.Close()

	alerts, closeAlerts := alertSinks(cfg, redis.NewAlertStore(pool, alertsKept), logger)
	defer closeAlerts()

	r, err := buildRelayer(cfg, pool, alerts, logger)
	if err != nil {
		logger.Fatal("cannot build relayer", zap.Error(err))
	}

	// both chains must be reachable and serve the configured chain ids before agents start
	for _, probe := range r.api.Probes {
		head, err := probe.Probe(ctx)
		if err != nil {
			logger.Fatal("chain probe failed", zap.Error(err))
		}
		logger.Info("chain reachable", zap.String("chain", head.Name), zap.Uint64("head", head.Head))
	}
	if err := checkCommittee(ctx, cfg, r.ledgers); err != nil {
		logger.Fatal("ledger committee does not match configuration", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.fleet.Run(ctx)
	})
	g.Go(func() error {
		return workers.Worker_HTTP(ctx, httpConfig(cfg), r.api, logger)
	})
	if err := g.Wait(); err != nil {
		logger.Error("relayer stopped", zap.Error(err))
		return
	}
	logger.Info("relayer stopped")
}

// checkCommittee compares the deployed ledgers with the configured committee
func checkCommittee(ctx context.Context, cfg *config.Configuration, ledgers []committeeReader) error {
	for _, l := range ledgers {
		count, threshold, err := l.Committee(ctx)
		if err != nil {
			return err
		}
		if count != uint64(len(cfg.Bridge.Validators)) || threshold != uint64(cfg.Bridge.Threshold) {
			return fmt.Errorf("ledger has %d validators and threshold %d, configured %d and %d",
				count, threshold, len(cfg.Bridge.Validators), cfg.Bridge.Threshold)
		}
	}
	return nil
}

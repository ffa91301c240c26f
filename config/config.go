package config

import (
	"time"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen    string `yaml:"listen"`
		UseSSL    bool   `yaml:"ssl"`
		CertFile  string `yaml:"cert_file" split_words:"true"`
		KeyFile   string `yaml:"key_file" split_words:"true"`
		RedisPort int    `yaml:"redis_port" split_words:"true"`
		RedisHost string `yaml:"redis_host" split_words:"true"`
		RedisDB   int    `yaml:"redis_db" split_words:"true"`

		// security alerts, one JSON object per line
		AlertLog string `yaml:"alert_log" split_words:"true"`
		LogLevel string `yaml:"log_level" split_words:"true"`
	} `yaml:"server"`
	// committee and relayer behaviour, shared by every agent
	Bridge struct {
		Validators     []string      `yaml:"validators"`
		Threshold      int           `yaml:"threshold"`
		PollInterval   time.Duration `yaml:"poll_interval" split_words:"true"`
		WindowSize     uint64        `yaml:"window_size" split_words:"true"`
		RollbackWindow time.Duration `yaml:"rollback_window" split_words:"true"`

		// approve on the destination only after the lock is finalized on the source
		RequireSourceFinality bool `yaml:"require_source_finality" split_words:"true"`

		// wei, base 10
		LargeValue    string  `yaml:"large_value" split_words:"true"`
		GasRatio      float64 `yaml:"gas_ratio" split_words:"true"`
		MinGasBalance string  `yaml:"min_gas_balance" split_words:"true"`
	} `yaml:"bridge"`
	Source      ChainConfig `yaml:"source"`
	Destination ChainConfig `yaml:"destination"`

	// important private stuff, hex private keys of the validators run by this process
	ValidatorKeys []string `yaml:"validator_keys" envconfig:"VALIDATOR_KEYS"`
}

// EVM chain config
type ChainConfig struct {
	Name     string   `yaml:"name"`
	ChainID  uint64   `yaml:"chain_id" split_words:"true"`
	RPCList  []string `yaml:"rpc"`
	Contract string   `yaml:"contract"` // lock or mint ledger address
	GasLimit uint64   `yaml:"gas_limit" split_words:"true"`

	// suggested gas price is multiplied by this, 1 on mainnet
	GasPriceMultiplier int64         `yaml:"gas_price_multiplier" split_words:"true"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout" split_words:"true"`
}

const (
	DefaultListen         = ":8080"
	DefaultRedisHost      = "127.0.0.1"
	DefaultRedisPort      = 6379
	DefaultAlertLog       = "alerts.log"
	DefaultPollInterval   = 5 * time.Second
	DefaultWindowSize     = 100
	DefaultRollbackWindow = 24 * time.Hour
	DefaultThreshold      = 3
	DefaultGasRatio       = 0.95
	DefaultGasLimit       = 200000
	DefaultConfirmTimeout = 2 * time.Minute
)

// 1000 tokens of 18 decimals
const DefaultLargeValue = "1000000000000000000000"

// maximum number of EVM RPC retries
const EVM_RETRIES = 3

func defaults() *Configuration {
	cfg := &Configuration{}
	cfg.Server.Listen = DefaultListen
	cfg.Server.RedisHost = DefaultRedisHost
	cfg.Server.RedisPort = DefaultRedisPort
	cfg.Server.AlertLog = DefaultAlertLog
	cfg.Server.LogLevel = "info"
	cfg.Bridge.Threshold = DefaultThreshold
	cfg.Bridge.PollInterval = DefaultPollInterval
	cfg.Bridge.WindowSize = DefaultWindowSize
	cfg.Bridge.RollbackWindow = DefaultRollbackWindow
	cfg.Bridge.RequireSourceFinality = true
	cfg.Bridge.LargeValue = DefaultLargeValue
	cfg.Bridge.GasRatio = DefaultGasRatio
	for _, c := range []*ChainConfig{&cfg.Source, &cfg.Destination} {
		c.GasLimit = DefaultGasLimit
		c.GasPriceMultiplier = 1
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	return cfg
}

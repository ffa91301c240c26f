package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"piobridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

func readFile(cfg *Configuration, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process("", cfg)
}

// Load reads defaults, then the yaml file at path (skipped if path is empty), then the
// environment. Callers validate once they filled in what they generate themselves.
func Load(path string) (*Configuration, error) {
	cfg := defaults()
	if path != "" {
		if err := readFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := readEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	if err := ethav.Validate(common.HexToAddress(s).Hex()); err != nil {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return common.HexToAddress(s), nil
}

func parseWei(name string, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: %q is not a non-negative base 10 integer", name, s)
	}
	return v, nil
}

// Validate checks the committee and relayer settings. Chain endpoints are checked
// separately by ValidateChains, devnet has none.
func (c *Configuration) Validate() error {
	if len(c.Bridge.Validators) != types.ValidatorCount {
		return fmt.Errorf("bridge.validators: need exactly %d validators, got %d", types.ValidatorCount, len(c.Bridge.Validators))
	}
	if _, err := c.ValidatorSet(); err != nil {
		return fmt.Errorf("bridge.validators: %w", err)
	}
	if c.Bridge.PollInterval <= 0 {
		return errors.New("bridge.poll_interval must be positive")
	}
	if c.Bridge.WindowSize == 0 {
		return errors.New("bridge.window_size must be positive")
	}
	if c.Bridge.RollbackWindow <= 0 {
		return errors.New("bridge.rollback_window must be positive")
	}
	if c.Bridge.GasRatio <= 0 || c.Bridge.GasRatio > 1 {
		return fmt.Errorf("bridge.gas_ratio %v out of (0, 1]", c.Bridge.GasRatio)
	}
	if _, err := parseWei("bridge.large_value", c.Bridge.LargeValue); err != nil {
		return err
	}
	if c.Bridge.MinGasBalance != "" {
		if _, err := parseWei("bridge.min_gas_balance", c.Bridge.MinGasBalance); err != nil {
			return err
		}
	}
	if _, err := c.Signers(); err != nil {
		return err
	}
	return nil
}

func (c *Configuration) ValidateChains() error {
	for _, ch := range []struct {
		name string
		cfg  ChainConfig
	}{{"source", c.Source}, {"destination", c.Destination}} {
		if len(ch.cfg.RPCList) == 0 {
			return fmt.Errorf("%s.rpc: no endpoints", ch.name)
		}
		if ch.cfg.ChainID == 0 {
			return fmt.Errorf("%s.chain_id missing", ch.name)
		}
		if _, err := parseAddress(ch.cfg.Contract); err != nil {
			return fmt.Errorf("%s.contract: %w", ch.name, err)
		}
		if ch.cfg.GasLimit == 0 {
			return fmt.Errorf("%s.gas_limit must be positive", ch.name)
		}
		if ch.cfg.GasPriceMultiplier <= 0 {
			return fmt.Errorf("%s.gas_price_multiplier must be positive", ch.name)
		}
		// zero would make receipt polling wait forever
		if ch.cfg.ConfirmTimeout <= 0 {
			return fmt.Errorf("%s.confirm_timeout must be positive", ch.name)
		}
	}
	if len(c.ValidatorKeys) == 0 {
		return errors.New("no validator keys, set VALIDATOR_KEYS")
	}
	return nil
}

func (c *Configuration) ValidatorAddresses() ([]common.Address, error) {
	res := make([]common.Address, 0, len(c.Bridge.Validators))
	for _, v := range c.Bridge.Validators {
		addr, err := parseAddress(v)
		if err != nil {
			return nil, err
		}
		res = append(res, addr)
	}
	return res, nil
}

func (c *Configuration) ValidatorSet() (*types.ValidatorSet, error) {
	addrs, err := c.ValidatorAddresses()
	if err != nil {
		return nil, err
	}
	return types.NewValidatorSet(addrs, c.Bridge.Threshold)
}

// Signers parses the validator keys, every key must belong to the committee
func (c *Configuration) Signers() ([]*ecdsa.PrivateKey, error) {
	set, err := c.ValidatorSet()
	if err != nil {
		return nil, err
	}

	res := make([]*ecdsa.PrivateKey, 0, len(c.ValidatorKeys))
	for n, k := range c.ValidatorKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(k), "0x"))
		if err != nil {
			return nil, fmt.Errorf("validator key %d: %w", n, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if !set.Contains(addr) {
			return nil, fmt.Errorf("validator key %d: %s is not a committee member", n, addr.Hex())
		}
		res = append(res, key)
	}
	return res, nil
}

func (c *Configuration) LargeValueWei() *big.Int {
	v, _ := parseWei("", c.Bridge.LargeValue)
	return v
}

// nil when no minimum is configured
func (c *Configuration) MinGasBalanceWei() *big.Int {
	if c.Bridge.MinGasBalance == "" {
		return nil
	}
	v, _ := parseWei("", c.Bridge.MinGasBalance)
	return v
}

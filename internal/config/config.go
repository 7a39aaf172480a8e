// Package config provides configuration loading and management for the pipeline.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/types"
)

// AssetConfig describes one token of the pair
type AssetConfig struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
}

// Config holds all pipeline configuration
type Config struct {
	// Network endpoint and signing credential
	RPCURL     string `yaml:"rpc_url"`
	PrivateKey string `yaml:"-"`

	// Chain selects explorer links; ChainID of zero is taken from the chain preset
	Chain   string `yaml:"chain"`
	ChainID int64  `yaml:"chain_id"`

	// Contract addresses
	PoolFactory   string `yaml:"pool_factory"`
	SwapRouter    string `yaml:"swap_router"`
	LiquidityPool string `yaml:"liquidity_pool"`

	// Assets: the swap input and the swap output, which is also the LP token
	InputAsset  AssetConfig `yaml:"input_asset"`
	OutputAsset AssetConfig `yaml:"output_asset"`

	// Swap settings. AmountOutMinimum is in human-readable units of the
	// output asset; zero disables slippage protection.
	FeeTier           uint32 `yaml:"fee_tier"`
	AmountOutMinimum  string `yaml:"amount_out_minimum"`
	SqrtPriceLimitX96 string `yaml:"sqrt_price_limit_x96"`

	// Transaction handling
	GasLimitMultiplier  float64       `yaml:"gas_limit_multiplier"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	RPCRetryMax         int           `yaml:"rpc_retry_max"`

	// Consecutive unreachable-node errors before RPC calls fail fast
	RPCBreakerFailures   int           `yaml:"rpc_breaker_failures"`
	RPCBreakerResetDelay time.Duration `yaml:"rpc_breaker_reset_delay"`

	// Observability
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OtelEndpoint string `yaml:"otel_endpoint"`
	MetricsAddr  string `yaml:"metrics_addr"`

	// Run report webhook
	WebhookURL    string `yaml:"webhook_url"`
	WebhookAPIKey string `yaml:"-"`
}

// Default returns the Sepolia USDC to LINK configuration
func Default() Config {
	return Config{
		Chain:         string(types.ChainSepolia),
		PoolFactory:   "0x0227628f3F023bb0B980b67D528571c95c6DaC1c",
		SwapRouter:    "0x3bFA4769FB09eefC5a80d6E87c3B9C650f7Ae48E",
		LiquidityPool: "0x9fC9e94C0DdC148f8D4c47c9b1dD78Fbb5e40F4D",
		InputAsset: AssetConfig{
			Address:  "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			Decimals: 6,
			Symbol:   "USDC",
			Name:     "USD//C",
		},
		OutputAsset: AssetConfig{
			Address:  "0x779877A7B0D9E8603169DdbD7836e478b4624789",
			Decimals: 18,
			Symbol:   "LINK",
			Name:     "Chainlink",
		},
		FeeTier:              3000,
		AmountOutMinimum:     "0",
		SqrtPriceLimitX96:    "0",
		GasLimitMultiplier:   1.2,
		ReceiptTimeout:       3 * time.Minute,
		ReceiptPollInterval:  2 * time.Second,
		RequestTimeout:       15 * time.Second,
		RPCRetryMax:          3,
		RPCBreakerFailures:   5,
		RPCBreakerResetDelay: 30 * time.Second,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order, and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = GetEnvOrDefault("CONFIG_FILE", "")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		logrus.Infof("Loaded configuration from %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields with environment variables when set. Values
// that cannot be represented are reported instead of being truncated.
func (c *Config) applyEnv() error {
	c.RPCURL = GetEnvOrDefault("RPC_URL", c.RPCURL)
	c.PrivateKey = GetEnvOrDefault("PRIVATE_KEY", c.PrivateKey)
	c.Chain = strings.ToLower(GetEnvOrDefault("CHAIN", c.Chain))
	c.ChainID = int64(GetEnvAsInt("CHAIN_ID", int(c.ChainID)))
	c.PoolFactory = GetEnvOrDefault("POOL_FACTORY_ADDRESS", c.PoolFactory)
	c.SwapRouter = GetEnvOrDefault("SWAP_ROUTER_ADDRESS", c.SwapRouter)
	c.LiquidityPool = GetEnvOrDefault("LIQUIDITY_POOL_ADDRESS", c.LiquidityPool)
	var errs []error
	if fee := GetEnvAsInt("FEE_TIER", int(c.FeeTier)); fee <= 0 || fee >= 1<<24 {
		errs = append(errs, fmt.Errorf("FEE_TIER %d is out of range", fee))
	} else {
		c.FeeTier = uint32(fee)
	}
	c.AmountOutMinimum = GetEnvOrDefault("AMOUNT_OUT_MINIMUM", c.AmountOutMinimum)
	c.SqrtPriceLimitX96 = GetEnvOrDefault("SQRT_PRICE_LIMIT_X96", c.SqrtPriceLimitX96)
	c.GasLimitMultiplier = GetEnvAsFloat("GAS_LIMIT_MULTIPLIER", c.GasLimitMultiplier)
	c.ReceiptTimeout = GetEnvAsDuration("RECEIPT_TIMEOUT", c.ReceiptTimeout)
	c.ReceiptPollInterval = GetEnvAsDuration("RECEIPT_POLL_INTERVAL", c.ReceiptPollInterval)
	c.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.RPCRetryMax = GetEnvAsInt("RPC_RETRY_MAX", c.RPCRetryMax)
	c.RPCBreakerFailures = GetEnvAsInt("RPC_BREAKER_FAILURES", c.RPCBreakerFailures)
	c.RPCBreakerResetDelay = GetEnvAsDuration("RPC_BREAKER_RESET_DELAY", c.RPCBreakerResetDelay)
	c.LogLevel = GetEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.OtelEndpoint)
	c.MetricsAddr = GetEnvOrDefault("METRICS_ADDR", c.MetricsAddr)
	c.WebhookURL = GetEnvOrDefault("WEBHOOK_URL", c.WebhookURL)
	c.WebhookAPIKey = GetEnvOrDefault("WEBHOOK_API_KEY", c.WebhookAPIKey)
	return errors.Join(errs...)
}

// Validate checks that the configuration can drive a run
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.RPCURL) == "" {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		errs = append(errs, errors.New("PRIVATE_KEY is required"))
	}

	addresses := []struct{ name, value string }{
		{"pool factory", c.PoolFactory},
		{"swap router", c.SwapRouter},
		{"liquidity pool", c.LiquidityPool},
		{"input asset", c.InputAsset.Address},
		{"output asset", c.OutputAsset.Address},
	}
	for _, addr := range addresses {
		if !common.IsHexAddress(addr.value) {
			errs = append(errs, fmt.Errorf("%s address %q is invalid", addr.name, addr.value))
		}
	}

	if c.FeeTier == 0 || c.FeeTier >= 1<<24 {
		errs = append(errs, fmt.Errorf("fee tier %d is out of range", c.FeeTier))
	}
	if c.ChainID <= 0 {
		if _, ok := types.Lookup(types.SupportedChain(c.Chain)); !ok {
			errs = append(errs, fmt.Errorf("unknown chain %q and no chain id", c.Chain))
		}
	}
	if _, err := c.MinimumOutput(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PriceLimit(); err != nil {
		errs = append(errs, err)
	}
	if c.GasLimitMultiplier < 1 {
		errs = append(errs, fmt.Errorf("gas limit multiplier %.2f must be at least 1", c.GasLimitMultiplier))
	}
	if c.ReceiptTimeout <= 0 || c.ReceiptPollInterval <= 0 {
		errs = append(errs, errors.New("receipt timeout and poll interval must be positive"))
	}

	return errors.Join(errs...)
}

// ResolvedChainID returns ChainID, or the preset chain's id when unset
func (c Config) ResolvedChainID() int64 {
	if c.ChainID > 0 {
		return c.ChainID
	}
	if preset, ok := types.Lookup(types.SupportedChain(c.Chain)); ok {
		return preset.ChainID
	}
	return 0
}

// MinimumOutput parses AmountOutMinimum
func (c Config) MinimumOutput() (decimal.Decimal, error) {
	if strings.TrimSpace(c.AmountOutMinimum) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(c.AmountOutMinimum))
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount out minimum %q is invalid: %w", c.AmountOutMinimum, err)
	}
	if d.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("amount out minimum %q must not be negative", c.AmountOutMinimum)
	}
	return d, nil
}

// PriceLimit parses SqrtPriceLimitX96
func (c Config) PriceLimit() (*big.Int, error) {
	raw := strings.TrimSpace(c.SqrtPriceLimitX96)
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 0)
	if !ok || v.Sign() < 0 || v.BitLen() > 160 {
		return nil, fmt.Errorf("sqrt price limit %q is not a uint160", c.SqrtPriceLimitX96)
	}
	return v, nil
}

// Assets returns the descriptors of the input and output asset
func (c Config) Assets() (model.AssetDescriptor, model.AssetDescriptor) {
	chainID := c.ResolvedChainID()
	return c.InputAsset.descriptor(chainID), c.OutputAsset.descriptor(chainID)
}

func (a AssetConfig) descriptor(chainID int64) model.AssetDescriptor {
	return model.AssetDescriptor{
		ChainID:  chainID,
		Address:  common.HexToAddress(a.Address),
		Decimals: a.Decimals,
		Symbol:   a.Symbol,
		Name:     a.Name,
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists && value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		} else {
			logrus.Warnf("Invalid integer in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists && value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		} else {
			logrus.Warnf("Invalid float in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists && value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		} else {
			logrus.Warnf("Invalid duration in %s: %v, using default: %v", key, err, defaultValue)
		}
	}
	return defaultValue
}

// Package config loads and validates Mark's configuration. Loading follows
// the teacher's pattern (os.ReadFile + yaml.Unmarshal, configs/config.go);
// validation is added on top via go-playground/validator struct tags.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment names the network (mainnet or testnet). It is validated on
// load; no default (TTL, polling cadence) is derived from it.
type Environment string

const (
	EnvMainnet Environment = "mainnet"
	EnvTestnet Environment = "testnet"
)

// Asset describes one token Mark tracks on a chain.
type Asset struct {
	Address          string `yaml:"address" validate:"required"`
	Symbol           string `yaml:"symbol" validate:"required"`
	Decimals         int    `yaml:"decimals" validate:"gte=0,lte=18"`
	TickerHash       string `yaml:"tickerHash" validate:"required"`
	IsNative         bool   `yaml:"isNative"`
	BalanceThreshold string `yaml:"balanceThreshold"`
}

// Deployments carries well-known contract addresses on a chain.
type Deployments struct {
	Everclear string `yaml:"everclear"`
	Permit2   string `yaml:"permit2"`
	Multicall3 string `yaml:"multicall3"`
}

// ChainConfig is the per-chain section of the configuration.
type ChainConfig struct {
	Providers []string    `yaml:"providers" validate:"required,min=1"`
	Assets    []Asset     `yaml:"assets"`
	InvoiceAge int64      `yaml:"invoiceAge"`
	GasThreshold string   `yaml:"gasThreshold"`
	Deployments Deployments `yaml:"deployments"`

	// Zodiac/Safe routing, optional. When ZodiacRoleModuleAddress is set the
	// chain is Safe/Zodiac-routed and GnosisSafeAddress is the owner used in
	// balance/ownership checks instead of the raw signer address.
	ZodiacRoleModuleAddress string `yaml:"zodiacRoleModuleAddress"`
	ZodiacRoleKey           string `yaml:"zodiacRoleKey"`
	GnosisSafeAddress       string `yaml:"gnosisSafeAddress"`
}

// UsesZodiac reports whether this chain routes transactions through a Safe
// role module rather than a raw EOA signer.
func (c ChainConfig) UsesZodiac() bool {
	return c.ZodiacRoleModuleAddress != ""
}

// Route is one configured rebalance corridor (spec §4.4.2).
type Route struct {
	Origin         int64    `yaml:"origin" validate:"required"`
	Destination    int64    `yaml:"destination" validate:"required"`
	Asset          string   `yaml:"asset" validate:"required"`
	Maximum        string   `yaml:"maximum" validate:"required"`
	Reserve        string   `yaml:"reserve"`
	SlippagesDbps  []int64  `yaml:"slippagesDbps"`
	Preferences    []string `yaml:"preferences"`
}

// Hub is the hub-chain section (Everclear invoice/settlement domain).
type Hub struct {
	Domain    int64    `yaml:"domain" validate:"required"`
	Providers []string `yaml:"providers" validate:"required,min=1"`
}

// Config is the root configuration object, matching spec §6.
type Config struct {
	Chains                    map[string]ChainConfig `yaml:"chains"`
	Routes                    []Route                `yaml:"routes"`
	OwnAddress                string                 `yaml:"ownAddress" validate:"required"`
	OwnSolAddress             string                 `yaml:"ownSolAddress"`
	SupportedSettlementDomains []int64               `yaml:"supportedSettlementDomains"`
	Hub                       Hub                    `yaml:"hub"`
	Environment               Environment            `yaml:"environment" validate:"oneof=mainnet testnet"`
	PollingInterval           int64                  `yaml:"pollingInterval"`
	MaxRetries                int                    `yaml:"maxRetries"`
	RetryDelay                int64                  `yaml:"retryDelay"`
	LogLevel                  string                 `yaml:"logLevel"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`

	Kraken  map[string]string `yaml:"kraken"`
	Binance map[string]string `yaml:"binance"`
	Solana  map[string]string `yaml:"solana"`
	Tac     map[string]string `yaml:"tac"`
}

// DatabaseConfig configures the persistence pool (spec §4.1).
type DatabaseConfig struct {
	URL               string `yaml:"url" validate:"required"`
	PoolSize          int    `yaml:"poolSize"`
	IdleTimeoutSec    int    `yaml:"idleTimeoutSec"`
	ConnectTimeoutSec int    `yaml:"connectTimeoutSec"`
}

// RedisConfig configures the event queue's Redis connection.
type RedisConfig struct {
	URL string `yaml:"url" validate:"required"`
}

// LoadConfig reads and parses a YAML configuration file, then validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	cfg.applyDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.PoolSize == 0 {
		c.Database.PoolSize = 40
	}
	if c.Database.IdleTimeoutSec == 0 {
		c.Database.IdleTimeoutSec = 30
	}
	if c.Database.ConnectTimeoutSec == 0 {
		c.Database.ConnectTimeoutSec = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// TickerHashFor resolves the tickerHash configured for (assetSymbolOrAddress, chain).
func (c *Config) TickerHashFor(chainID int64, assetSymbolOrAddress string) (string, bool) {
	chain, ok := c.Chains[fmt.Sprint(chainID)]
	if !ok {
		return "", false
	}
	for _, a := range chain.Assets {
		if strings.EqualFold(a.Symbol, assetSymbolOrAddress) || strings.EqualFold(a.Address, assetSymbolOrAddress) {
			return a.TickerHash, true
		}
	}
	return "", false
}

// AllTickers returns the deduplicated, lowercase list of every tickerHash
// configured across all chains (spec §4.7 getTickers).
func (c *Config) AllTickers() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, chain := range c.Chains {
		for _, a := range chain.Assets {
			t := strings.ToLower(a.TickerHash)
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

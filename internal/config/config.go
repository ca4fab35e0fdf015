// Package config loads facilitator settings from flags, environment, .env
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/evm"
)

// EnvPrefix is prepended to every environment variable, e.g. X402_PORT.
const EnvPrefix = "X402"

// Config is the full facilitator configuration.
type Config struct {
	Port          int    `mapstructure:"port"`
	Network       string `mapstructure:"network"`
	RPCURL        string `mapstructure:"rpc_url"`
	Asset         string `mapstructure:"asset"`
	AssetSymbol   string `mapstructure:"asset_symbol"`
	AssetDecimals uint8  `mapstructure:"asset_decimals"`
	DataDir       string `mapstructure:"data_dir"`
	DBFile        string `mapstructure:"db_file"`
	Router        string `mapstructure:"router"`

	Key    KeyConfig    `mapstructure:"key"`
	Bounty BountyConfig `mapstructure:"bounty"`
	Settle SettleConfig `mapstructure:"settle"`
	Log    LogConfig    `mapstructure:"log"`
	Admin  AdminConfig  `mapstructure:"admin"`
	MCP    MCPConfig    `mapstructure:"mcp"`
}

// KeyConfig selects the facilitator key source.
type KeyConfig struct {
	PrivateKey   string `mapstructure:"private_key"`
	File         string `mapstructure:"file"`
	Keystore     string `mapstructure:"keystore"`
	Password     string `mapstructure:"password"`
	Mnemonic     string `mapstructure:"mnemonic"`
	AccountIndex uint32 `mapstructure:"account_index"`
}

// BountyConfig configures the reward pool. Amount is in whole tokens, e.g. "1".
type BountyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Amount    string `mapstructure:"amount"`
	MaxClaims int64  `mapstructure:"max_claims"`
	Guidance  string `mapstructure:"guidance"`
}

// SettleConfig bounds transaction submission.
type SettleConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig enables the admin routes when JWTSecret is set.
type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var defaults = map[string]any{
	"port":                   3402,
	"network":                x402.FlareMainnet.NetworkID,
	"rpc_url":                "",
	"asset":                  "",
	"asset_symbol":           "",
	"asset_decimals":         0,
	"data_dir":               "data",
	"db_file":                "bounty.db",
	"router":                 "chi",
	"key.private_key":        "",
	"key.file":               "",
	"key.keystore":           "",
	"key.password":           "",
	"key.mnemonic":           "",
	"key.account_index":      0,
	"bounty.enabled":         true,
	"bounty.amount":          "1",
	"bounty.max_claims":      100,
	"bounty.guidance":        "",
	"settle.confirm_timeout": evm.DefaultConfirmTimeout,
	"settle.gas_limit":       evm.DefaultGasLimit,
	"log.level":              "info",
	"log.format":             "console",
	"admin.jwt_secret":       "",
	"mcp.enabled":            true,
}

// legacyEnv maps keys to the variable names used by earlier deployments.
var legacyEnv = map[string][]string{
	"rpc_url":         {"FLARE_RPC"},
	"key.private_key": {"FACILITATOR_PRIVATE_KEY"},
	"key.file":        {"FACILITATOR_KEY_PATH"},
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))}, names...)
		_ = v.BindEnv(args...)
	}
	return v
}

// LoadDotEnv loads .env from the working directory if present.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configFile (if set) into v, then decodes and validates.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}

	if _, err := x402.ValidateNetwork(cfg.Network); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if _, err := cfg.Chain(); err != nil {
		return err
	}

	if cfg.Router != "chi" && cfg.Router != "gin" {
		return fmt.Errorf("router must be 'chi' or 'gin', got %q", cfg.Router)
	}

	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.Bounty.Enabled {
		if cfg.Bounty.MaxClaims <= 0 {
			return fmt.Errorf("bounty.max_claims must be positive")
		}
		if _, err := cfg.BountyAmount(); err != nil {
			return err
		}
	}

	if cfg.Settle.ConfirmTimeout <= 0 {
		cfg.Settle.ConfirmTimeout = evm.DefaultConfirmTimeout
	}
	if cfg.Settle.GasLimit == 0 {
		cfg.Settle.GasLimit = evm.DefaultGasLimit
	}
	if cfg.DBFile == "" {
		cfg.DBFile = "bounty.db"
	}
	return nil
}

// Chain resolves the network to a chain configuration with overrides applied.
// Networks without a built-in configuration need rpc_url and asset.
func (c *Config) Chain() (x402.ChainConfig, error) {
	chain, err := x402.ChainByNetwork(c.Network)
	if err != nil {
		id, perr := x402.ParseEIP155ChainID(c.Network)
		if perr != nil {
			return x402.ChainConfig{}, perr
		}
		if c.RPCURL == "" || c.Asset == "" {
			return x402.ChainConfig{}, fmt.Errorf("network %s has no built-in configuration: set rpc_url and asset", c.Network)
		}
		chain = x402.ChainConfig{
			NetworkID: c.Network,
			Name:      c.Network,
			ChainID:   id,
			Decimals:  6,
		}
	}

	if c.RPCURL != "" {
		chain.RPCURL = c.RPCURL
	}
	if c.Asset != "" {
		if err := x402.ValidateTokenAddress(chain.NetworkID, c.Asset); err != nil {
			return x402.ChainConfig{}, err
		}
		chain.AssetAddress = c.Asset
	}
	if c.AssetSymbol != "" {
		chain.AssetSymbol = c.AssetSymbol
	}
	if c.AssetDecimals != 0 {
		chain.Decimals = c.AssetDecimals
	}
	return chain, nil
}

// BountyAmount converts the configured whole-token amount to atomic units.
func (c *Config) BountyAmount() (*big.Int, error) {
	chain, err := c.Chain()
	if err != nil {
		return nil, err
	}
	amount, err := x402.AmountToBigInt(c.Bounty.Amount, int(chain.Decimals))
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: bounty.amount %q", x402.ErrInvalidAmount, c.Bounty.Amount)
	}
	return amount, nil
}

// KeySource converts the key settings for evm.LoadKey.
func (c *Config) KeySource() evm.KeySource {
	return evm.KeySource{
		PrivateKey:   c.Key.PrivateKey,
		File:         c.Key.File,
		Keystore:     c.Key.Keystore,
		Password:     c.Key.Password,
		Mnemonic:     c.Key.Mnemonic,
		AccountIndex: c.Key.AccountIndex,
	}
}

// DBPath is the SQLite file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

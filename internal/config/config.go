package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Identity   IdentityConfig   `yaml:"identity"`
	TopUp      TopUpConfig      `yaml:"topup"`
	Balance    BalanceConfig    `yaml:"balance"`
	Auth       AuthConfig       `yaml:"auth"`
	CORS       CORSConfig       `yaml:"cors"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// operator endpoints (ledger switch) accept loopback plus these IPs/CIDRs
	AdminAllowedIPs []string `yaml:"adminAllowedIPs"`
}

// Addr host:port the API listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"` // postgres | sqlite
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// BlockchainConfig Blockchain configuration
type BlockchainConfig struct {
	// Hex private key of the funding wallet (without 0x). Prefer WALLET_PRIVATE_KEY.
	WalletPrivateKey string                   `yaml:"walletPrivateKey"`
	Networks         map[string]NetworkConfig `yaml:"networks"`
}

// TokenConfig ERC-20 token accepted for top-ups on a network
type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"` // 0 = read decimals() from the contract
}

// NetworkConfig Network configuration
type NetworkConfig struct {
	ChainID             int64                  `yaml:"chainId"`
	Name                string                 `yaml:"name"`
	RPCEndpoints        []string               `yaml:"rpcEndpoints"`
	ExecutionAddress    string                 `yaml:"executionAddress"` // empty = ask the ledger
	NativeSymbol        string                 `yaml:"nativeSymbol"`
	NativeDecimals      uint8                  `yaml:"nativeDecimals"`
	Tokens              map[string]TokenConfig `yaml:"tokens"`
	GasPrice            string                 `yaml:"gasPrice"` // wei, "auto" or empty = suggested +20%
	GasLimit            uint64                 `yaml:"gasLimit"`
	ConfirmPollInterval int                    `yaml:"confirmPollInterval"` // seconds
	ConfirmTimeout      int                    `yaml:"confirmTimeout"`      // seconds, 0 = wait until ctx ends
	Enabled             bool                   `yaml:"enabled"`
}

// PollInterval receipt polling interval
func (n NetworkConfig) PollInterval() time.Duration {
	if n.ConfirmPollInterval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.ConfirmPollInterval) * time.Second
}

// Timeout receipt wait budget; zero means no gateway-side limit
func (n NetworkConfig) Timeout() time.Duration {
	if n.ConfirmTimeout <= 0 {
		return 0
	}
	return time.Duration(n.ConfirmTimeout) * time.Second
}

// LedgerConfig off-chain ledger service configuration
type LedgerConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Selected  string   `yaml:"selected"` // must be one of Endpoints; empty = first
	Timeout   int      `yaml:"timeout"`  // seconds
}

// SelectedEndpoint resolves the endpoint used at startup
func (l LedgerConfig) SelectedEndpoint() string {
	if l.Selected != "" {
		return l.Selected
	}
	if len(l.Endpoints) > 0 {
		return l.Endpoints[0]
	}
	return ""
}

// IdentityConfig credential policy
type IdentityConfig struct {
	MaxAge int `yaml:"maxAge"` // seconds, 0 = credentials never expire
}

// TopUpConfig top-up saga configuration
type TopUpConfig struct {
	MinAmount        string `yaml:"minAmount"`
	DefaultAmount    string `yaml:"defaultAmount"`
	ResumptionWindow int    `yaml:"resumptionWindow"` // seconds, 0 = unlimited
	AutoResume       bool   `yaml:"autoResume"`
	ResumeInterval   int    `yaml:"resumeInterval"` // seconds between resume scans, 0 = scan once at startup
}

// BalanceConfig balance cache configuration
type BalanceConfig struct {
	CacheTTL   int    `yaml:"cacheTTL"` // seconds
	MinBalance string `yaml:"minBalance"`
}

// AuthConfig API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	TokenTTL  int    `yaml:"tokenTTL"` // seconds
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LogConfig logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

var AppConfig *Config

// LoadConfig Load configuration file
func LoadConfig(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads, parses and env-overrides a configuration file without touching AppConfig
func Load(configPath string) (*Config, error) {
	// if configuration file path empty, use default path
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			logrus.Infof("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"path":     configPath,
		"networks": len(cfg.Blockchain.Networks),
		"ledger":   cfg.Ledger.SelectedEndpoint(),
	}).Info("✅ Configuration loaded")

	return cfg, nil
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8088},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "topup.db"},
		NATS:     NATSConfig{Timeout: 10, SubjectPrefix: "topup"},
		Ledger:   LedgerConfig{Timeout: 30},
		Identity: IdentityConfig{MaxAge: 24 * 3600},
		TopUp: TopUpConfig{
			MinAmount:     "0.1",
			DefaultAmount: "10",
		},
		Balance: BalanceConfig{CacheTTL: 60, MinBalance: "0.1"},
		Auth:    AuthConfig{TokenTTL: 24 * 3600},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Ledger.Selected != "" && len(c.Ledger.Endpoints) > 0 {
		found := false
		for _, e := range c.Ledger.Endpoints {
			if e == c.Ledger.Selected {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("ledger.selected %q is not one of ledger.endpoints", c.Ledger.Selected)
		}
	}
	seen := make(map[int64]string)
	for name, n := range c.Blockchain.Networks {
		if !n.Enabled {
			continue
		}
		if n.ChainID == 0 {
			return fmt.Errorf("network %s: chainId is required", name)
		}
		if other, dup := seen[n.ChainID]; dup {
			return fmt.Errorf("networks %s and %s share chainId %d", other, name, n.ChainID)
		}
		seen[n.ChainID] = name
	}
	return nil
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if key := os.Getenv("WALLET_PRIVATE_KEY"); key != "" {
		config.Blockchain.WalletPrivateKey = key
	}

	if endpoints := os.Getenv("LEDGER_ENDPOINTS"); endpoints != "" {
		config.Ledger.Endpoints = splitTrimmed(endpoints)
	}
	if selected := os.Getenv("LEDGER_SELECTED"); selected != "" {
		config.Ledger.Selected = selected
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	// blockchain network configuration
	for networkName, networkConfig := range config.Blockchain.Networks {
		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(networkName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = splitTrimmed(rpcEndpoints)
		}

		envGasPrice := fmt.Sprintf("%s_GAS_PRICE", strings.ToUpper(networkName))
		if gasPrice := os.Getenv(envGasPrice); gasPrice != "" {
			networkConfig.GasPrice = gasPrice
		}

		envGasLimit := fmt.Sprintf("%s_GAS_LIMIT", strings.ToUpper(networkName))
		if gasLimit := os.Getenv(envGasLimit); gasLimit != "" {
			if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
				networkConfig.GasLimit = limit
			}
		}

		envExec := fmt.Sprintf("%s_EXECUTION_ADDRESS", strings.ToUpper(networkName))
		if exec := os.Getenv(envExec); exec != "" {
			networkConfig.ExecutionAddress = exec
		}

		config.Blockchain.Networks[networkName] = networkConfig
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitTrimmed(corsOrigins)
	}
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetNetworkConfigByChainID looks up an enabled network by chain ID
func (c *Config) GetNetworkConfigByChainID(chainID int64) (*NetworkConfig, error) {
	for _, network := range c.Blockchain.Networks {
		if network.ChainID == chainID && network.Enabled {
			n := network
			return &n, nil
		}
	}
	return nil, fmt.Errorf("network with chainID %d not found or disabled", chainID)
}

// EnabledNetworks returns every enabled network keyed by chain ID
func (c *Config) EnabledNetworks() map[int64]NetworkConfig {
	out := make(map[int64]NetworkConfig)
	for _, network := range c.Blockchain.Networks {
		if network.Enabled {
			out[network.ChainID] = network
		}
	}
	return out
}

// NewLogger builds the process logger from the log section
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

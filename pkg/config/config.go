package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bridge server configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Reserve    ReserveConfig    `mapstructure:"reserve"`
	Gas        GasConfig        `mapstructure:"gas"`
	PriceFeed  PriceFeedConfig  `mapstructure:"price_feed"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	// InMemory switches the durable store to the in-process implementation.
	// Intended for local development only.
	InMemory bool `mapstructure:"in_memory"`
}

// EthereumConfig contains destination-chain client settings
type EthereumConfig struct {
	RPCURL           string `mapstructure:"rpc_url"`
	ChainID          int64  `mapstructure:"chain_id"`
	SignerPrivateKey string `mapstructure:"signer_private_key"`
	FeeHistoryBlocks uint64 `mapstructure:"fee_history_blocks"`
}

// BridgeConfig contains quote and settlement settings. All amounts are
// decimal wei strings.
type BridgeConfig struct {
	MinQuoteAmount     string        `mapstructure:"min_quote_amount"`
	MaxQuoteAmount     string        `mapstructure:"max_quote_amount"`
	QuoteValidity      time.Duration `mapstructure:"quote_validity"`
	SupportedChains    []string      `mapstructure:"supported_chains"`
	QuoteGasBuffer     string        `mapstructure:"quote_gas_buffer"`
	MinPaymentProofLen int           `mapstructure:"min_payment_proof_len"`
	SettlementTimeout  time.Duration `mapstructure:"settlement_timeout"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
}

// ReserveConfig contains reserve accounting thresholds, decimal wei strings.
type ReserveConfig struct {
	ThresholdWarning  string `mapstructure:"threshold_warning"`
	ThresholdCritical string `mapstructure:"threshold_critical"`
	DailyLimit        string `mapstructure:"daily_limit"`
}

// GasConfig contains gas estimation bounds, wei values.
type GasConfig struct {
	MaxFeePerGasCap    uint64 `mapstructure:"max_fee_per_gas_cap"`
	EmergencyFeeCap    uint64 `mapstructure:"emergency_fee_cap"`
	MaxTotalCost       uint64 `mapstructure:"max_total_cost"`
	DefaultPriorityFee uint64 `mapstructure:"default_priority_fee"`
}

// PriceFeedConfig contains external price feed settings
type PriceFeedConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "gasless_bridge")
	viper.SetDefault("database.in_memory", false)

	// Ethereum defaults (Base Sepolia)
	viper.SetDefault("ethereum.chain_id", 84532)
	viper.SetDefault("ethereum.fee_history_blocks", 5)

	// Bridge defaults
	viper.SetDefault("bridge.min_quote_amount", "1000000000000000")    // 0.001 ETH
	viper.SetDefault("bridge.max_quote_amount", "1000000000000000000") // 1 ETH
	viper.SetDefault("bridge.quote_validity", "15m")
	viper.SetDefault("bridge.supported_chains", []string{"base-sepolia"})
	viper.SetDefault("bridge.quote_gas_buffer", "5000000000000000") // 0.005 ETH
	viper.SetDefault("bridge.min_payment_proof_len", 10)
	viper.SetDefault("bridge.settlement_timeout", "30m")
	viper.SetDefault("bridge.reconcile_interval", "5m")

	// Reserve defaults
	viper.SetDefault("reserve.threshold_warning", "500000000000000000")  // 0.5 ETH
	viper.SetDefault("reserve.threshold_critical", "100000000000000000") // 0.1 ETH
	viper.SetDefault("reserve.daily_limit", "10000000000000000000")      // 10 ETH

	// Gas defaults
	viper.SetDefault("gas.max_fee_per_gas_cap", uint64(200_000_000_000))  // 200 Gwei
	viper.SetDefault("gas.emergency_fee_cap", uint64(500_000_000_000))    // 500 Gwei
	viper.SetDefault("gas.max_total_cost", uint64(5_000_000_000_000_000)) // 0.005 ETH
	viper.SetDefault("gas.default_priority_fee", uint64(1_000_000_000))   // 1 Gwei

	// Price feed defaults
	viper.SetDefault("price_feed.url", "https://api.coingecko.com/api/v3/simple/price")
	viper.SetDefault("price_feed.request_timeout", "10s")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required")
	}
	if config.Ethereum.SignerPrivateKey == "" {
		return fmt.Errorf("ethereum.signer_private_key is required")
	}
	if !config.Database.InMemory && config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if len(config.Bridge.SupportedChains) == 0 {
		return fmt.Errorf("bridge.supported_chains must not be empty")
	}
	return nil
}

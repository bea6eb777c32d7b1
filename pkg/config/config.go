// Package config provides configuration management for the launchpad.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Index backends.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds all launchpad configuration.
type Config struct {
	// Name is the instance name.
	Name string `mapstructure:"name"`

	// Network is the target network (sepolia, localhost).
	Network string `mapstructure:"network"`

	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log_level"`

	// Database is the PostgreSQL connection string.
	Database string `mapstructure:"database"`

	// RPCURL is the ledger RPC endpoint (overrides network preset).
	RPCURL string `mapstructure:"rpc_url"`

	// PrivateKey signs ledger transactions. Hex, with or without 0x.
	PrivateKey string `mapstructure:"private_key"`

	Index     IndexConfig    `mapstructure:"index"`
	Mongo     MongoConfig    `mapstructure:"mongo"`
	Contracts ContractConfig `mapstructure:"contracts"`
	Oracle    OracleConfig   `mapstructure:"oracle"`
	Server    ServerConfig   `mapstructure:"server"`
	Sync      SyncConfig     `mapstructure:"sync"`
	AMQP      AMQPConfig     `mapstructure:"amqp"`

	// Derived fields (populated from network preset).
	ChainID      uint64
	PollInterval time.Duration
}

// IndexConfig selects the index backend and its write retry policy.
type IndexConfig struct {
	// Backend is one of postgres, mongo or memory.
	Backend string `mapstructure:"backend"`

	// MaxAttempts bounds index writes after a confirmed deployment.
	MaxAttempts int `mapstructure:"max_attempts"`

	// Backoff is multiplied by the attempt number between writes.
	Backoff time.Duration `mapstructure:"backoff"`
}

// MongoConfig holds the document index connection.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// ContractConfig holds the deployed addresses the launchpad talks to.
type ContractConfig struct {
	PresaleFactory string `mapstructure:"presale_factory"`
	ZWETH          string `mapstructure:"zweth"`
}

// OracleConfig holds the decryption relayer settings.
type OracleConfig struct {
	RelayerURL string        `mapstructure:"relayer_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	// HTTPPort is the REST and websocket port.
	HTTPPort int `mapstructure:"http_port"`

	// MetricsPort is the Prometheus metrics port.
	MetricsPort int `mapstructure:"metrics_port"`
}

// SyncConfig holds reconciler configuration.
type SyncConfig struct {
	// BatchSize is the number of blocks to scan per batch.
	BatchSize uint64 `mapstructure:"batch_size"`

	// MaxRetries is the maximum RPC retry attempts.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the initial retry delay.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// StartBlock is where the factory scan begins without a saved cursor.
	StartBlock uint64 `mapstructure:"start_block"`

	// Concurrency bounds parallel pool reads.
	Concurrency int `mapstructure:"concurrency"`
}

// AMQPConfig enables the optional RabbitMQ event sink when URI is set.
type AMQPConfig struct {
	URI      string `mapstructure:"uri"`
	Exchange string `mapstructure:"exchange"`
}

// Load reads configuration from file and environment.
//
// Returns:
//   - *Config: the loaded configuration
//   - error: nil on success, configuration error on failure
func Load() (*Config, error) {
	cfg := &Config{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.applyPreset(); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyPreset fills unset network fields from the network preset.
func (c *Config) applyPreset() error {
	preset, ok := NetworkPresets[c.Network]
	if !ok {
		return fmt.Errorf("unknown network: %s (valid: %s)", c.Network, strings.Join(SupportedNetworks(), ", "))
	}

	c.ChainID = preset.ChainID
	c.PollInterval = preset.PollInterval

	if c.RPCURL == "" {
		c.RPCURL = preset.DefaultRPC
	}
	if c.Oracle.RelayerURL == "" {
		c.Oracle.RelayerURL = preset.RelayerURL
	}
	if c.Contracts.PresaleFactory == "" {
		c.Contracts.PresaleFactory = preset.PresaleFactory
	}
	if c.Contracts.ZWETH == "" {
		c.Contracts.ZWETH = preset.ZWETH
	}
	return nil
}

// applyEnv lets secrets and endpoints come from the environment.
func (c *Config) applyEnv() {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.Database = dbURL
	}
	if rpcURL := os.Getenv("LAUNCHPAD_RPC_URL"); rpcURL != "" {
		c.RPCURL = rpcURL
	}
	if key := os.Getenv("LAUNCHPAD_PRIVATE_KEY"); key != "" {
		c.PrivateKey = key
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		c.Mongo.URI = uri
	}
}

// Validate checks that all required configuration is present.
//
// Returns:
//   - error: nil if valid, validation error otherwise
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}

	switch c.Index.Backend {
	case BackendPostgres:
		if c.Database == "" {
			return fmt.Errorf("database connection string is required (set DATABASE_URL env var or database in config)")
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for the mongo backend (set MONGODB_URI env var)")
		}
		if c.Mongo.Database == "" {
			return fmt.Errorf("mongo.database is required for the mongo backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown index backend: %q (valid: postgres, mongo, memory)", c.Index.Backend)
	}

	if c.Index.MaxAttempts < 1 {
		return fmt.Errorf("index.max_attempts must be at least 1")
	}

	contracts := []struct {
		key   string
		value string
	}{
		{"contracts.presale_factory", c.Contracts.PresaleFactory},
		{"contracts.zweth", c.Contracts.ZWETH},
	}
	for _, ct := range contracts {
		if ct.value == "" {
			return fmt.Errorf("%s is required", ct.key)
		}
		if !common.IsHexAddress(ct.value) {
			return fmt.Errorf("%s: invalid address %q", ct.key, ct.value)
		}
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}

	return nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("network", "sepolia")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("index.backend", BackendPostgres)
	viper.SetDefault("index.max_attempts", 3)
	viper.SetDefault("index.backoff", "1s")
	viper.SetDefault("mongo.database", "launchpad")
	viper.SetDefault("oracle.timeout", "30s")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("sync.batch_size", 1000)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.retry_delay", "1s")
	viper.SetDefault("sync.concurrency", 8)
	viper.SetDefault("amqp.exchange", "launchpad.events")
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Anomaly   AnomalyConfig   `mapstructure:"anomaly"`
	Retention RetentionConfig `mapstructure:"retention"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort      int    `mapstructure:"api_port"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	BindAddress  string `mapstructure:"bind_address"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"` // bolt database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the redis backend connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// BillingConfig defines fare calculation settings
type BillingConfig struct {
	DefaultRatePerMinute string `mapstructure:"default_rate_per_minute"`
}

// LedgerConfig defines the settlement ledger gateway
type LedgerConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	RequestTimeout      string `mapstructure:"request_timeout"`
	Currency            string `mapstructure:"currency"`
	Issuer              string `mapstructure:"issuer"`
	OperatorAccount     string `mapstructure:"operator_account"`
	TrustLimit          string `mapstructure:"trust_limit"`
	PollInitialInterval string `mapstructure:"poll_initial_interval"`
	PollMaxInterval     string `mapstructure:"poll_max_interval"`
	PollBudget          string `mapstructure:"poll_budget"`
}

// AnomalyConfig defines usage anomaly detection thresholds
type AnomalyConfig struct {
	Window                 string `mapstructure:"window"`
	HighFrequencyThreshold int    `mapstructure:"high_frequency_threshold"`
	ShortSessionCutoff     string `mapstructure:"short_session_cutoff"`
	RapidCycleThreshold    int    `mapstructure:"rapid_cycle_threshold"`
}

// RetentionConfig defines how long historical records are kept
type RetentionConfig struct {
	Period    string `mapstructure:"period"`
	SweepTime string `mapstructure:"sweep_time"` // HH:MM
}

// NotifyConfig defines the realtime notification feed
type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PARKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/parkd/parkd.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Billing defaults
	v.SetDefault("billing.default_rate_per_minute", "0.10")

	// Ledger defaults
	v.SetDefault("ledger.endpoint", "http://localhost:5005")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("ledger.currency", "PRK")
	v.SetDefault("ledger.trust_limit", "1000000")
	v.SetDefault("ledger.poll_initial_interval", "1s")
	v.SetDefault("ledger.poll_max_interval", "8s")
	v.SetDefault("ledger.poll_budget", "30s")

	// Anomaly defaults
	v.SetDefault("anomaly.window", "24h")
	v.SetDefault("anomaly.high_frequency_threshold", 10)
	v.SetDefault("anomaly.short_session_cutoff", "60s")
	v.SetDefault("anomaly.rapid_cycle_threshold", 5)

	// Retention defaults
	v.SetDefault("retention.period", "2160h") // 90 days
	v.SetDefault("retention.sweep_time", "03:00")

	// Notification defaults
	v.SetDefault("notify.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the bolt backend")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger endpoint is required")
	}
	if cfg.Ledger.Issuer == "" {
		return fmt.Errorf("ledger issuer is required")
	}
	if cfg.Ledger.OperatorAccount == "" {
		return fmt.Errorf("ledger operator account is required")
	}

	if cfg.Anomaly.HighFrequencyThreshold < 1 {
		return fmt.Errorf("high frequency threshold must be at least 1")
	}
	if cfg.Anomaly.RapidCycleThreshold < 1 {
		return fmt.Errorf("rapid cycle threshold must be at least 1")
	}

	return nil
}

package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/openlot/parkd/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the parkd configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values only
func getDefaultConfig() *config.Config {
	v := viper.New()

	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

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

	v.SetDefault("billing.default_rate_per_minute", "0.10")

	v.SetDefault("ledger.endpoint", "http://localhost:5005")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("ledger.currency", "PRK")
	v.SetDefault("ledger.trust_limit", "1000000")
	v.SetDefault("ledger.poll_initial_interval", "1s")
	v.SetDefault("ledger.poll_max_interval", "8s")
	v.SetDefault("ledger.poll_budget", "30s")

	v.SetDefault("anomaly.window", "24h")
	v.SetDefault("anomaly.high_frequency_threshold", 10)
	v.SetDefault("anomaly.short_session_cutoff", "60s")
	v.SetDefault("anomaly.rapid_cycle_threshold", 5)

	v.SetDefault("retention.period", "2160h")
	v.SetDefault("retention.sweep_time", "03:00")

	v.SetDefault("notify.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.api_port":      true,
		"server.metrics_port":  true,
		"server.bind_address":  true,
		"server.read_timeout":  true,
		"server.write_timeout": true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Billing
		"billing.default_rate_per_minute": true,

		// Ledger
		"ledger.endpoint":              true,
		"ledger.request_timeout":       true,
		"ledger.currency":              true,
		"ledger.issuer":                true,
		"ledger.operator_account":      true,
		"ledger.trust_limit":           true,
		"ledger.poll_initial_interval": true,
		"ledger.poll_max_interval":     true,
		"ledger.poll_budget":           true,

		// Anomaly detection
		"anomaly.window":                   true,
		"anomaly.high_frequency_threshold": true,
		"anomaly.short_session_cutoff":     true,
		"anomaly.rapid_cycle_threshold":    true,

		// Retention
		"retention.period":     true,
		"retention.sweep_time": true,

		// Notifications
		"notify.enabled": true,

		// Logging
		"logging.level":  true,
		"logging.format": true,
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  read_timeout", cfg.Server.ReadTimeout, defaultCfg.Server.ReadTimeout, yellow, green)
	dumpField("  write_timeout", cfg.Server.WriteTimeout, defaultCfg.Server.WriteTimeout, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	// Billing
	_, _ = cyan.Println("\n[billing]")
	dumpField("  default_rate_per_minute", cfg.Billing.DefaultRatePerMinute, defaultCfg.Billing.DefaultRatePerMinute, yellow, green)

	// Ledger
	_, _ = cyan.Println("\n[ledger]")
	dumpField("  endpoint", cfg.Ledger.Endpoint, defaultCfg.Ledger.Endpoint, yellow, green)
	dumpField("  request_timeout", cfg.Ledger.RequestTimeout, defaultCfg.Ledger.RequestTimeout, yellow, green)
	dumpField("  currency", cfg.Ledger.Currency, defaultCfg.Ledger.Currency, yellow, green)
	dumpField("  issuer", cfg.Ledger.Issuer, defaultCfg.Ledger.Issuer, yellow, green)
	dumpField("  operator_account", cfg.Ledger.OperatorAccount, defaultCfg.Ledger.OperatorAccount, yellow, green)
	dumpField("  trust_limit", cfg.Ledger.TrustLimit, defaultCfg.Ledger.TrustLimit, yellow, green)
	dumpField("  poll_initial_interval", cfg.Ledger.PollInitialInterval, defaultCfg.Ledger.PollInitialInterval, yellow, green)
	dumpField("  poll_max_interval", cfg.Ledger.PollMaxInterval, defaultCfg.Ledger.PollMaxInterval, yellow, green)
	dumpField("  poll_budget", cfg.Ledger.PollBudget, defaultCfg.Ledger.PollBudget, yellow, green)

	// Anomaly detection
	_, _ = cyan.Println("\n[anomaly]")
	dumpField("  window", cfg.Anomaly.Window, defaultCfg.Anomaly.Window, yellow, green)
	dumpField("  high_frequency_threshold", cfg.Anomaly.HighFrequencyThreshold, defaultCfg.Anomaly.HighFrequencyThreshold, yellow, green)
	dumpField("  short_session_cutoff", cfg.Anomaly.ShortSessionCutoff, defaultCfg.Anomaly.ShortSessionCutoff, yellow, green)
	dumpField("  rapid_cycle_threshold", cfg.Anomaly.RapidCycleThreshold, defaultCfg.Anomaly.RapidCycleThreshold, yellow, green)

	// Retention
	_, _ = cyan.Println("\n[retention]")
	dumpField("  period", cfg.Retention.Period, defaultCfg.Retention.Period, yellow, green)
	dumpField("  sweep_time", cfg.Retention.SweepTime, defaultCfg.Retention.SweepTime, yellow, green)

	// Notifications
	_, _ = cyan.Println("\n[notify]")
	dumpField("  enabled", cfg.Notify.Enabled, defaultCfg.Notify.Enabled, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}

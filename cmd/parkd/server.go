package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlot/parkd/internal/anomaly"
	"github.com/openlot/parkd/internal/api"
	"github.com/openlot/parkd/internal/clock"
	"github.com/openlot/parkd/internal/config"
	"github.com/openlot/parkd/internal/ledger"
	"github.com/openlot/parkd/internal/metrics"
	"github.com/openlot/parkd/internal/notify"
	"github.com/openlot/parkd/internal/retention"
	"github.com/openlot/parkd/internal/session"
	"github.com/openlot/parkd/internal/storage"
	"github.com/openlot/parkd/internal/storage/bolt"
	"github.com/openlot/parkd/internal/storage/redis"
	"github.com/openlot/parkd/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start parkd server",
	Long:  `Start the parkd server with the session API, realtime feed, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting parkd")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	clk := clock.RealClock{}

	// Initialize settlement client
	trustLimit, err := decimal.NewFromString(cfg.Ledger.TrustLimit)
	if err != nil {
		return fmt.Errorf("invalid trust limit %q: %w", cfg.Ledger.TrustLimit, err)
	}

	gateway := ledger.NewHTTPGateway(
		cfg.Ledger.Endpoint,
		parseDuration(cfg.Ledger.RequestTimeout, 10*time.Second),
	)
	settlementClient, err := ledger.NewClient(gateway, store.Wallets(), ledger.Config{
		Currency:            cfg.Ledger.Currency,
		Issuer:              cfg.Ledger.Issuer,
		OperatorAccount:     cfg.Ledger.OperatorAccount,
		TrustLimit:          trustLimit,
		PollInitialInterval: parseDuration(cfg.Ledger.PollInitialInterval, ledger.DefaultPollInitialInterval),
		PollMaxInterval:     parseDuration(cfg.Ledger.PollMaxInterval, ledger.DefaultPollMaxInterval),
		PollBudget:          parseDuration(cfg.Ledger.PollBudget, ledger.DefaultPollBudget),
	}, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize settlement client: %w", err)
	}

	logger.Info().
		Str("endpoint", cfg.Ledger.Endpoint).
		Str("currency", cfg.Ledger.Currency).
		Msg("Settlement client initialized")

	// Initialize anomaly detection
	detector := anomaly.NewDetector(anomaly.Thresholds{
		Window:                 parseDuration(cfg.Anomaly.Window, anomaly.DefaultWindow),
		HighFrequencyThreshold: cfg.Anomaly.HighFrequencyThreshold,
		ShortSessionCutoff:     parseDuration(cfg.Anomaly.ShortSessionCutoff, anomaly.DefaultShortSessionCutoff),
		RapidCycleThreshold:    cfg.Anomaly.RapidCycleThreshold,
	})
	anomalyRunner := anomaly.NewRunner(store, detector, clk, logger)

	logger.Info().Msg("Anomaly detector initialized")

	// Initialize realtime notifications
	hub := notify.NewHub(logger)
	var wsHandler http.Handler
	if cfg.Notify.Enabled {
		wsHandler = notify.NewWSHandler(hub, logger)
		logger.Info().Msg("Realtime notifications enabled")
	}

	// Initialize session manager
	sessionManager := session.NewManager(store, settlementClient, hub, anomalyRunner, clk, logger)

	logger.Info().Msg("Session manager initialized")

	// Initialize API server
	apiServer := api.NewServer(api.Config{
		ListenAddr:   fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		ReadTimeout:  parseDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: parseDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}, store, sessionManager, settlementClient, wsHandler, logger)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)).
		Msg("API server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics server started")

	// Initialize retention sweeper
	sweeper, err := retention.NewSweeper(
		store,
		parseDuration(cfg.Retention.Period, retention.DefaultRetention),
		cfg.Retention.SweepTime,
		clk,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retention sweeper: %w", err)
	}
	sweeper.Start()

	// Notify systemd that startup is complete
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd readiness")
	}

	logger.Info().Msg("parkd startup complete")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd stopping")
	}

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("parkd stopped")
	return nil
}

// openStorage opens the configured storage backend
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

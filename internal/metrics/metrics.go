package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_sessions_started_total",
			Help: "Total parking sessions started",
		},
		[]string{"lot"},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_sessions_ended_total",
			Help: "Total parking sessions ended",
		},
		[]string{"lot"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkd_active_sessions",
			Help: "Number of currently active parking sessions",
		},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkd_session_duration_minutes",
			Help:    "Completed session duration in billed minutes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480, 1440},
		},
		[]string{"lot"},
	)

	// Billing metrics
	FareCharged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_fare_charged_total",
			Help: "Total fare amount charged, in settlement currency units",
		},
		[]string{"lot"},
	)

	// Settlement metrics
	SettlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_settlement_outcomes_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	SettlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkd_settlement_duration_seconds",
			Help:    "Time from payment submission to confirmed settlement",
			Buckets: []float64{.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"outcome"},
	)

	TrustlinesEstablished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parkd_trustlines_established_total",
			Help: "Trustlines established on the ledger",
		},
	)

	// Anomaly metrics
	AnomaliesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_anomalies_detected_total",
			Help: "Usage anomalies detected",
		},
		[]string{"type"},
	)

	// Notification metrics
	WSSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkd_ws_subscribers",
			Help: "Number of connected websocket subscribers",
		},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_events_published_total",
			Help: "Realtime events published by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parkd_events_dropped_total",
			Help: "Realtime events dropped due to slow subscribers",
		},
	)

	// Retention metrics
	RecordsSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkd_records_swept_total",
			Help: "Expired records removed by the retention sweeper",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		ActiveSessions,
		SessionDuration,
		FareCharged,
		SettlementOutcomes,
		SettlementDuration,
		TrustlinesEstablished,
		AnomaliesDetected,
		WSSubscribers,
		EventsPublished,
		EventsDropped,
		RecordsSwept,
	)
}

// IncAnomalyDetected records a detected anomaly of the given type.
func IncAnomalyDetected(anomalyType string) {
	AnomaliesDetected.WithLabelValues(anomalyType).Inc()
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

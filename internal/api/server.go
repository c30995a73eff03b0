package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/openlot/parkd/internal/session"
	"github.com/openlot/parkd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Balancer reads wallet balances from the ledger.
type Balancer interface {
	Balance(ctx context.Context, wallet string) (decimal.Decimal, error)
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the public HTTP surface: lot provisioning, session
// lifecycle, anomaly review, wallet balances, and the websocket feed.
type Server struct {
	config   Config
	store    storage.Store
	sessions *session.Manager
	balancer Balancer
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates the API server. wsHandler serves the realtime feed
// and may be nil when notifications are disabled.
func NewServer(cfg Config, store storage.Store, sessions *session.Manager, balancer Balancer, wsHandler http.Handler, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	router := mux.NewRouter()

	s := &Server{
		config:   cfg,
		store:    store,
		sessions: sessions,
		balancer: balancer,
		router:   router,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	router.Use(loggingMiddleware(s.logger))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/lots", s.handleCreateLot).Methods(http.MethodPost)
	api.HandleFunc("/lots", s.handleListLots).Methods(http.MethodGet)
	api.HandleFunc("/lots/{id}/spots", s.handleListSpots).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handlePeekSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/end", s.handleEndSession).Methods(http.MethodPost)
	api.HandleFunc("/anomalies", s.handleListAnomalies).Methods(http.MethodGet)
	api.HandleFunc("/anomalies/{id}/resolve", s.handleResolveAnomaly).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{address}/balance", s.handleWalletBalance).Methods(http.MethodGet)

	if wsHandler != nil {
		router.Handle("/ws/lots/{id}", wsHandler).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the API server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code"`
	Retryable bool   `json:"retryable"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeRetryableError marks the failure as safe to retry.
func writeRetryableError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Code:      statusCode,
		Retryable: true,
	})
}

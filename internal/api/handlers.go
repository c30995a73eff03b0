package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/openlot/parkd/internal/billing"
	"github.com/openlot/parkd/internal/ledger"
	"github.com/openlot/parkd/internal/session"
	"github.com/openlot/parkd/internal/storage"
	"github.com/shopspring/decimal"
)

type createLotRequest struct {
	Name          string `json:"name"`
	RatePerMinute string `json:"rate_per_minute"`
	SpotCount     int    `json:"spot_count"`
}

type lotResponse struct {
	Lot   storage.Lot    `json:"lot"`
	Spots []storage.Spot `json:"spots"`
}

func (s *Server) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	var req createLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Lot name is required")
		return
	}
	if req.SpotCount < 1 {
		writeError(w, http.StatusBadRequest, "Spot count must be at least 1")
		return
	}
	rate, err := decimal.NewFromString(req.RatePerMinute)
	if err != nil || !rate.IsPositive() {
		writeError(w, http.StatusBadRequest, "Rate per minute must be a positive decimal")
		return
	}

	lot := storage.Lot{
		ID:            uuid.New().String(),
		Name:          req.Name,
		RatePerMinute: rate,
		CreatedAt:     time.Now().UTC(),
	}

	spots, err := s.store.Spots().CreateLot(r.Context(), lot, req.SpotCount)
	if err != nil {
		s.logger.Error().Err(err).Str("lot", req.Name).Msg("Failed to create lot")
		writeError(w, http.StatusInternalServerError, "Failed to create lot")
		return
	}

	writeJSON(w, http.StatusCreated, lotResponse{Lot: lot, Spots: spots})
}

func (s *Server) handleListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.store.Spots().ListLots(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list lots")
		writeError(w, http.StatusInternalServerError, "Failed to list lots")
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleListSpots(w http.ResponseWriter, r *http.Request) {
	lotID := mux.Vars(r)["id"]

	if _, err := s.store.Spots().GetLot(r.Context(), lotID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lot not found")
			return
		}
		s.logger.Error().Err(err).Str("lot_id", lotID).Msg("Failed to load lot")
		writeError(w, http.StatusInternalServerError, "Failed to load lot")
		return
	}

	spots, err := s.store.Spots().ListSpots(r.Context(), lotID)
	if err != nil {
		s.logger.Error().Err(err).Str("lot_id", lotID).Msg("Failed to list spots")
		writeError(w, http.StatusInternalServerError, "Failed to list spots")
		return
	}
	writeJSON(w, http.StatusOK, spots)
}

type startSessionRequest struct {
	Wallet string `json:"wallet"`
	SpotID string `json:"spot_id"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Wallet == "" || req.SpotID == "" {
		writeError(w, http.StatusBadRequest, "Wallet and spot ID are required")
		return
	}

	sess, err := s.sessions.Start(r.Context(), req.Wallet, req.SpotID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSpotNotFound):
			writeError(w, http.StatusNotFound, "Spot not found")
		case errors.Is(err, session.ErrSpotUnavailable):
			writeError(w, http.StatusConflict, "Spot is already occupied")
		default:
			s.logger.Error().Err(err).Str("spot_id", req.SpotID).Msg("Failed to start session")
			writeError(w, http.StatusInternalServerError, "Failed to start session")
		}
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if wallet := r.URL.Query().Get("wallet"); wallet != "" {
		since := time.Time{}
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid since timestamp, expected RFC3339")
				return
			}
			since = parsed
		}
		sessions, err := s.sessions.SessionsForWallet(r.Context(), wallet, since)
		if err != nil {
			s.logger.Error().Err(err).Str("wallet", wallet).Msg("Failed to list wallet sessions")
			writeError(w, http.StatusInternalServerError, "Failed to list sessions")
			return
		}
		writeJSON(w, http.StatusOK, sessions)
		return
	}

	sessions, err := s.sessions.ActiveSessions(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active sessions")
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handlePeekSession(w http.ResponseWriter, r *http.Request) {
	quote, err := s.sessions.Peek(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, billing.ErrInvalidInterval), errors.Is(err, billing.ErrInvalidRate):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error().Err(err).Msg("Failed to quote session")
			writeError(w, http.StatusInternalServerError, "Failed to quote session")
		}
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type endSessionResponse struct {
	Session   *storage.Session `json:"session"`
	Error     string           `json:"error,omitempty"`
	Retryable bool             `json:"retryable"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, session.ErrAlreadyEnded):
			writeError(w, http.StatusConflict, "Session has already ended")
		case errors.Is(err, billing.ErrInvalidInterval), errors.Is(err, billing.ErrInvalidRate):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error().Err(err).Msg("Failed to end session")
			writeError(w, http.StatusInternalServerError, "Failed to end session")
		}
		return
	}

	// The session is ended and the spot released whatever the payment
	// outcome; the status code reflects the settlement so clients know
	// whether to retry.
	switch sess.Settlement.State {
	case storage.SettlementPending:
		writeJSON(w, http.StatusServiceUnavailable, endSessionResponse{
			Session:   sess,
			Error:     sess.Settlement.Reason,
			Retryable: true,
		})
	case storage.SettlementFailed:
		writeJSON(w, http.StatusBadGateway, endSessionResponse{
			Session: sess,
			Error:   sess.Settlement.Reason,
		})
	default:
		writeJSON(w, http.StatusOK, endSessionResponse{Session: sess})
	}
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	var (
		anomalies []storage.Anomaly
		err       error
	)

	if wallet := r.URL.Query().Get("wallet"); wallet != "" {
		anomalies, err = s.store.Anomalies().ListByWallet(r.Context(), wallet)
	} else {
		anomalies, err = s.store.Anomalies().ListUnresolved(r.Context())
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list anomalies")
		writeError(w, http.StatusInternalServerError, "Failed to list anomalies")
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.store.Anomalies().Resolve(r.Context(), id, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Anomaly not found")
			return
		}
		s.logger.Error().Err(err).Str("anomaly_id", id).Msg("Failed to resolve anomaly")
		writeError(w, http.StatusInternalServerError, "Failed to resolve anomaly")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	balance, err := s.balancer.Balance(r.Context(), address)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerUnreachable) {
			writeRetryableError(w, http.StatusServiceUnavailable, "Ledger is unreachable")
			return
		}
		s.logger.Error().Err(err).Str("wallet", address).Msg("Failed to read balance")
		writeError(w, http.StatusInternalServerError, "Failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

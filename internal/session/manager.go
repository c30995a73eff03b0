package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openlot/parkd/internal/billing"
	"github.com/openlot/parkd/internal/clock"
	"github.com/openlot/parkd/internal/ledger"
	"github.com/openlot/parkd/internal/metrics"
	"github.com/openlot/parkd/internal/notify"
	"github.com/openlot/parkd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Settler moves money on the external ledger.
type Settler interface {
	EnsureTrust(ctx context.Context, wallet string) (bool, error)
	Settle(ctx context.Context, wallet string, amount decimal.Decimal, idempotencyKey string) (string, error)
}

// Publisher fans realtime events out to lot subscribers.
type Publisher interface {
	Publish(event notify.Event)
}

// Scanner evaluates a wallet's usage for anomalies after activity.
type Scanner interface {
	ScanWallet(ctx context.Context, wallet string) ([]storage.Anomaly, error)
}

// Quote is the current charge for a session: running total while
// ACTIVE, the recorded amount once ENDED.
type Quote struct {
	SessionID string                `json:"session_id"`
	Status    storage.SessionStatus `json:"status"`
	Minutes   int64                 `json:"minutes"`
	Amount    decimal.Decimal       `json:"amount"`
	Final     bool                  `json:"final"`
}

// Manager drives the session lifecycle: spot claim on start, fare and
// spot release on end, settlement against the ledger, and the
// notifications and anomaly scans that follow. The per-spot mutex
// serializes local callers; the store's claim remains the authority on
// availability.
type Manager struct {
	store    storage.Store
	settler  Settler
	notifier Publisher
	scanner  Scanner
	clk      clock.Clock
	logger   zerolog.Logger
	spots    *keyedMutex
}

// NewManager creates a session manager.
func NewManager(store storage.Store, settler Settler, notifier Publisher, scanner Scanner, clk clock.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		settler:  settler,
		notifier: notifier,
		scanner:  scanner,
		clk:      clk,
		logger:   logger.With().Str("component", "session").Logger(),
		spots:    newKeyedMutex(),
	}
}

// Start claims the spot and opens an ACTIVE session for the wallet. A
// spot carries at most one active session; the second of two concurrent
// starts loses with ErrSpotUnavailable.
func (m *Manager) Start(ctx context.Context, wallet, spotID string) (*storage.Session, error) {
	unlock := m.spots.lock(spotID)
	defer unlock()

	spot, err := m.store.Spots().GetSpot(ctx, spotID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSpotNotFound
		}
		return nil, err
	}

	if err := m.store.Spots().ClaimSpot(ctx, spotID); err != nil {
		if errors.Is(err, storage.ErrSpotUnavailable) {
			return nil, ErrSpotUnavailable
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSpotNotFound
		}
		return nil, err
	}

	session := storage.Session{
		ID:        uuid.New().String(),
		Wallet:    wallet,
		SpotID:    spotID,
		LotID:     spot.LotID,
		StartedAt: m.clk.Now(),
		Status:    storage.SessionActive,
	}

	if err := m.store.Sessions().Create(ctx, session); err != nil {
		// Hand the spot back; the claim must not outlive a failed start.
		if releaseErr := m.store.Spots().ReleaseSpot(ctx, spotID); releaseErr != nil {
			m.logger.Error().Err(releaseErr).Str("spot_id", spotID).
				Msg("Failed to release spot after aborted start")
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues(spot.LotID).Inc()
	metrics.ActiveSessions.Inc()

	m.logger.Info().
		Str("session_id", session.ID).
		Str("wallet", wallet).
		Str("spot_id", spotID).
		Str("lot_id", spot.LotID).
		Msg("Session started")

	occupied := false
	m.notifier.Publish(notify.Event{
		Kind:      notify.EventSpotAvailability,
		LotID:     spot.LotID,
		SpotID:    spotID,
		Available: &occupied,
		At:        session.StartedAt,
	})
	m.notifier.Publish(notify.Event{
		Kind:      notify.EventSessionStarted,
		LotID:     spot.LotID,
		SpotID:    spotID,
		SessionID: session.ID,
		At:        session.StartedAt,
	})

	return &session, nil
}

// Peek returns the session's current charge without changing any state.
func (m *Manager) Peek(ctx context.Context, sessionID string) (*Quote, error) {
	session, err := m.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if session.Status == storage.SessionEnded {
		minutes, err := billing.Minutes(session.StartedAt, *session.EndedAt)
		if err != nil {
			return nil, err
		}
		return &Quote{
			SessionID: session.ID,
			Status:    session.Status,
			Minutes:   minutes,
			Amount:    *session.Amount,
			Final:     true,
		}, nil
	}

	lot, err := m.store.Spots().GetLot(ctx, session.LotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lot %s: %w", session.LotID, err)
	}

	now := m.clk.Now()
	minutes, err := billing.Minutes(session.StartedAt, now)
	if err != nil {
		return nil, err
	}
	amount, err := billing.Fare(session.StartedAt, now, lot.RatePerMinute)
	if err != nil {
		return nil, err
	}

	return &Quote{
		SessionID: session.ID,
		Status:    session.Status,
		Minutes:   minutes,
		Amount:    amount,
		Final:     false,
	}, nil
}

// End closes the session: computes the fare, releases the spot, then
// settles on the ledger. The spot is released and the session marked
// ENDED before settlement is attempted, so a payment problem never
// keeps a physical spot occupied; the settlement outcome is recorded on
// the session for later reconciliation.
func (m *Manager) End(ctx context.Context, sessionID string) (*storage.Session, error) {
	session, minutes, err := m.closeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := *session.EndedAt
	amount := *session.Amount

	metrics.SessionsEnded.WithLabelValues(session.LotID).Inc()
	metrics.ActiveSessions.Dec()
	metrics.SessionDuration.WithLabelValues(session.LotID).Observe(float64(minutes))
	metrics.FareCharged.WithLabelValues(session.LotID).Add(amount.InexactFloat64())

	available := true
	m.notifier.Publish(notify.Event{
		Kind:      notify.EventSpotAvailability,
		LotID:     session.LotID,
		SpotID:    session.SpotID,
		Available: &available,
		At:        now,
	})

	session.Settlement = m.settle(ctx, session.Wallet, amount, session.ID)
	if err := m.store.Sessions().Update(ctx, *session); err != nil {
		m.logger.Error().Err(err).Str("session_id", session.ID).
			Msg("Failed to persist settlement result")
	}

	m.logger.Info().
		Str("session_id", session.ID).
		Str("wallet", session.Wallet).
		Int64("minutes", minutes).
		Str("amount", amount.String()).
		Str("settlement", string(session.Settlement.State)).
		Msg("Session ended")

	m.notifier.Publish(notify.Event{
		Kind:      notify.EventSessionEnded,
		LotID:     session.LotID,
		SpotID:    session.SpotID,
		SessionID: session.ID,
		Amount:    &amount,
		At:        now,
	})

	if _, err := m.scanner.ScanWallet(ctx, session.Wallet); err != nil {
		m.logger.Warn().Err(err).Str("wallet", session.Wallet).
			Msg("Anomaly scan after session end failed")
	}

	return session, nil
}

// closeSession performs the state transition under the per-spot lock:
// fare computation, spot release, and the ENDED persist. The lock is
// released before the caller settles, so the freed spot is claimable
// while the payment is still in flight.
func (m *Manager) closeSession(ctx context.Context, sessionID string) (*storage.Session, int64, error) {
	session, err := m.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, ErrSessionNotFound
		}
		return nil, 0, err
	}

	unlock := m.spots.lock(session.SpotID)
	defer unlock()

	// Re-read under the lock; a concurrent End may have won.
	session, err = m.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, ErrSessionNotFound
		}
		return nil, 0, err
	}
	if session.Status == storage.SessionEnded {
		return nil, 0, ErrAlreadyEnded
	}

	lot, err := m.store.Spots().GetLot(ctx, session.LotID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load lot %s: %w", session.LotID, err)
	}

	now := m.clk.Now()
	minutes, err := billing.Minutes(session.StartedAt, now)
	if err != nil {
		return nil, 0, err
	}
	amount, err := billing.Fare(session.StartedAt, now, lot.RatePerMinute)
	if err != nil {
		return nil, 0, err
	}

	if err := m.store.Spots().ReleaseSpot(ctx, session.SpotID); err != nil {
		return nil, 0, fmt.Errorf("failed to release spot %s: %w", session.SpotID, err)
	}

	session.EndedAt = &now
	session.Amount = &amount
	session.Status = storage.SessionEnded
	if err := m.store.Sessions().Update(ctx, *session); err != nil {
		return nil, 0, fmt.Errorf("failed to persist ended session: %w", err)
	}

	return session, minutes, nil
}

// settle runs the payment and folds the outcome into a SettlementResult.
// It never returns an error: payment problems annotate the session, they
// do not undo its end.
func (m *Manager) settle(ctx context.Context, wallet string, amount decimal.Decimal, sessionID string) *storage.SettlementResult {
	started := m.clk.Now()

	result := m.runSettlement(ctx, wallet, amount, sessionID)

	outcome := strings.ToLower(string(result.State))
	metrics.SettlementOutcomes.WithLabelValues(outcome).Inc()
	metrics.SettlementDuration.WithLabelValues(outcome).Observe(m.clk.Now().Sub(started).Seconds())

	if result.State != storage.SettlementSettled {
		m.logger.Warn().
			Str("session_id", sessionID).
			Str("wallet", wallet).
			Str("amount", amount.String()).
			Str("state", string(result.State)).
			Str("reason", result.Reason).
			Msg("Settlement did not complete")
	}

	return result
}

func (m *Manager) runSettlement(ctx context.Context, wallet string, amount decimal.Decimal, sessionID string) *storage.SettlementResult {
	trusted, err := m.settler.EnsureTrust(ctx, wallet)
	if err != nil {
		return settlementFromError(err, "")
	}
	if !trusted {
		return &storage.SettlementResult{
			State:  storage.SettlementPending,
			Reason: "trustline establishment pending confirmation",
		}
	}

	txHash, err := m.settler.Settle(ctx, wallet, amount, sessionID)
	if err != nil {
		return settlementFromError(err, txHash)
	}

	return &storage.SettlementResult{State: storage.SettlementSettled, TxHash: txHash}
}

// settlementFromError maps ledger errors onto the recorded outcome.
// Pending and transport errors stay retryable; the rest are terminal.
func settlementFromError(err error, txHash string) *storage.SettlementResult {
	switch {
	case errors.Is(err, ledger.ErrSettlementPending):
		return &storage.SettlementResult{
			State:  storage.SettlementPending,
			TxHash: txHash,
			Reason: "confirmation still pending",
		}
	case errors.Is(err, ledger.ErrLedgerUnreachable):
		return &storage.SettlementResult{
			State:  storage.SettlementPending,
			Reason: "ledger unreachable",
		}
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return &storage.SettlementResult{
			State:  storage.SettlementFailed,
			Reason: "insufficient funds",
		}
	case errors.Is(err, ledger.ErrTrustNotEstablished):
		return &storage.SettlementResult{
			State:  storage.SettlementFailed,
			Reason: "trustline not established",
		}
	default:
		return &storage.SettlementResult{
			State:  storage.SettlementFailed,
			Reason: err.Error(),
		}
	}
}

// ActiveSessions lists sessions currently occupying spots.
func (m *Manager) ActiveSessions(ctx context.Context) ([]storage.Session, error) {
	return m.store.Sessions().ListActive(ctx)
}

// SessionsForWallet lists the wallet's sessions started since the given
// time.
func (m *Manager) SessionsForWallet(ctx context.Context, wallet string, since time.Time) ([]storage.Session, error) {
	return m.store.Sessions().ListByWallet(ctx, wallet, since)
}

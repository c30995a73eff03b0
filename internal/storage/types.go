package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a parking session.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// UnmarshalJSON implements json.Unmarshaler to normalize and validate status.
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := SessionStatus(strings.ToUpper(raw))
	switch normalized {
	case SessionActive, SessionEnded:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid session status: %s (must be ACTIVE or ENDED)", raw)
	}
}

// SettlementState describes the outcome of settling a session's fare.
type SettlementState string

const (
	SettlementSettled SettlementState = "SETTLED"
	SettlementPending SettlementState = "PENDING"
	SettlementFailed  SettlementState = "FAILED"
)

// UnmarshalJSON implements json.Unmarshaler to normalize and validate state.
func (s *SettlementState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := SettlementState(strings.ToUpper(raw))
	switch normalized {
	case SettlementSettled, SettlementPending, SettlementFailed:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid settlement state: %s", raw)
	}
}

// AnomalyType is the closed set of flagged usage patterns.
type AnomalyType string

const (
	AnomalyHighFrequency AnomalyType = "HIGH_FREQUENCY_USAGE"
	AnomalyRapidCycling  AnomalyType = "RAPID_SESSION_START_END"
)

// UnmarshalJSON implements json.Unmarshaler to validate the anomaly type.
func (a *AnomalyType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := AnomalyType(strings.ToUpper(raw))
	switch normalized {
	case AnomalyHighFrequency, AnomalyRapidCycling:
		*a = normalized
		return nil
	default:
		return fmt.Errorf("invalid anomaly type: %s", raw)
	}
}

// Severity grades an anomaly finding.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// UnmarshalJSON implements json.Unmarshaler to validate the severity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := Severity(strings.ToUpper(raw))
	switch normalized {
	case SeverityLow, SeverityMedium, SeverityHigh:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid severity: %s (must be LOW, MEDIUM, or HIGH)", raw)
	}
}

// Lot is a group of spots sharing a billing rate and a realtime topic.
type Lot struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Spot is one occupiable parking space.
// Available is false exactly when one ACTIVE session references the spot.
type Spot struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lot_id"`
	Number    int       `json:"number"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettlementResult records how the fare of an ended session was settled.
type SettlementResult struct {
	State  SettlementState `json:"state"`
	TxHash string          `json:"tx_hash,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Session is one occupation episode of a spot by a wallet.
// Sessions are append-only history outside of retention sweeps.
type Session struct {
	ID         string            `json:"id"`
	Wallet     string            `json:"wallet"`
	SpotID     string            `json:"spot_id"`
	LotID      string            `json:"lot_id"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Amount     *decimal.Decimal  `json:"amount,omitempty"`
	Status     SessionStatus     `json:"status"`
	Settlement *SettlementResult `json:"settlement,omitempty"`
}

// Duration returns the session length, using now for active sessions.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(s.StartedAt)
}

// Anomaly is a flagged usage pattern pending operator resolution.
type Anomaly struct {
	ID          string      `json:"id"`
	Type        AnomalyType `json:"type"`
	Wallet      string      `json:"wallet"`
	SessionID   string      `json:"session_id,omitempty"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	Resolved    bool        `json:"resolved"`
	CreatedAt   time.Time   `json:"created_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// Wallet caches what we last observed about an actor's ledger account.
// Never authoritative: refreshed on every settlement and balance read.
type Wallet struct {
	Address           string          `json:"address"`
	TrustlineVerified bool            `json:"trustline_verified"`
	Balance           decimal.Decimal `json:"balance"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

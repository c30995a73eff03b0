package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"github.com/shopspring/decimal"
)

// parseLot converts a Redis hash to a Lot
func parseLot(data map[string]string) (*storage.Lot, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	rate, err := decimal.NewFromString(data["rate_per_minute"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse rate_per_minute: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.Lot{
		ID:            data["id"],
		Name:          data["name"],
		RatePerMinute: rate,
		CreatedAt:     createdAt,
	}, nil
}

// parseSpot converts a Redis hash to a Spot
func parseSpot(data map[string]string) (*storage.Spot, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	number, err := strconv.Atoi(data["number"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse number: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Spot{
		ID:        data["id"],
		LotID:     data["lot_id"],
		Number:    number,
		Available: data["available"] == "1",
		UpdatedAt: updatedAt,
	}, nil
}

// parseSession converts a Redis hash to a Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	session := &storage.Session{
		ID:        data["id"],
		Wallet:    data["wallet"],
		SpotID:    data["spot_id"],
		LotID:     data["lot_id"],
		StartedAt: startedAt,
		Status:    storage.SessionStatus(data["status"]),
	}

	if raw := data["ended_at"]; raw != "" {
		endedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		session.EndedAt = &endedAt
	}

	if raw := data["amount"]; raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		session.Amount = &amount
	}

	if raw := data["settle_state"]; raw != "" {
		session.Settlement = &storage.SettlementResult{
			State:  storage.SettlementState(raw),
			TxHash: data["settle_tx"],
			Reason: data["settle_reason"],
		}
	}

	return session, nil
}

// parseAnomaly converts a Redis hash to an Anomaly
func parseAnomaly(data map[string]string) (*storage.Anomaly, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	resolved, err := strconv.ParseBool(data["resolved"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse resolved: %w", err)
	}

	anomaly := &storage.Anomaly{
		ID:          data["id"],
		Type:        storage.AnomalyType(data["type"]),
		Wallet:      data["wallet"],
		SessionID:   data["session_id"],
		Description: data["description"],
		Severity:    storage.Severity(data["severity"]),
		Resolved:    resolved,
		CreatedAt:   createdAt,
	}

	if raw := data["resolved_at"]; raw != "" {
		resolvedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse resolved_at: %w", err)
		}
		anomaly.ResolvedAt = &resolvedAt
	}

	return anomaly, nil
}

// parseWallet converts a Redis hash to a Wallet
func parseWallet(data map[string]string) (*storage.Wallet, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	balance, err := decimal.NewFromString(data["balance"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Wallet{
		Address:           data["address"],
		TrustlineVerified: data["trustline_verified"] == "1",
		Balance:           balance,
		UpdatedAt:         updatedAt,
	}, nil
}

package anomaly

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/openlot/parkd/internal/clock"
	"github.com/openlot/parkd/internal/metrics"
	"github.com/openlot/parkd/internal/storage"
	"github.com/rs/zerolog"
)

// Runner loads session history, runs the detector, and persists new
// findings. A wallet with an unresolved finding of a given type is not
// flagged again for that type until the finding is resolved.
type Runner struct {
	store    storage.Store
	detector *Detector
	clk      clock.Clock
	logger   zerolog.Logger
}

// NewRunner creates a runner backed by the given store.
func NewRunner(store storage.Store, detector *Detector, clk clock.Clock, logger zerolog.Logger) *Runner {
	return &Runner{
		store:    store,
		detector: detector,
		clk:      clk,
		logger:   logger.With().Str("component", "anomaly").Logger(),
	}
}

// ScanWallet evaluates one wallet's recent history and records any new
// findings. Returns the findings persisted by this scan.
func (r *Runner) ScanWallet(ctx context.Context, wallet string) ([]storage.Anomaly, error) {
	now := r.clk.Now()
	since := now.Add(-r.detector.thresholds.Window)

	sessions, err := r.store.Sessions().ListByWallet(ctx, wallet, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history for %s: %w", wallet, err)
	}

	findings := r.detector.Scan(wallet, sessions, now)
	if len(findings) == 0 {
		return nil, nil
	}

	open, err := r.store.Anomalies().ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing anomalies for %s: %w", wallet, err)
	}
	openTypes := make(map[storage.AnomalyType]bool)
	for _, a := range open {
		if !a.Resolved {
			openTypes[a.Type] = true
		}
	}

	var recorded []storage.Anomaly
	for _, finding := range findings {
		if openTypes[finding.Type] {
			continue
		}

		finding.ID = uuid.New().String()
		if err := r.store.Anomalies().Add(ctx, finding); err != nil {
			return recorded, fmt.Errorf("failed to record anomaly: %w", err)
		}

		metrics.IncAnomalyDetected(string(finding.Type))
		r.logger.Warn().
			Str("wallet", wallet).
			Str("type", string(finding.Type)).
			Str("severity", string(finding.Severity)).
			Str("anomaly_id", finding.ID).
			Msg("Recorded usage anomaly")

		recorded = append(recorded, finding)
	}

	return recorded, nil
}

package anomaly

import (
	"fmt"
	"time"

	"github.com/openlot/parkd/internal/storage"
)

const (
	// DefaultWindow is how far back session history is inspected.
	DefaultWindow = 24 * time.Hour

	// DefaultHighFrequencyThreshold is the session count above which a
	// wallet is flagged for high-frequency usage.
	DefaultHighFrequencyThreshold = 10

	// DefaultShortSessionCutoff is the duration under which a session
	// counts as a rapid start/end cycle.
	DefaultShortSessionCutoff = 60 * time.Second

	// DefaultRapidCycleThreshold is the short-session count above which a
	// wallet is flagged for rapid cycling.
	DefaultRapidCycleThreshold = 5
)

// Thresholds tunes the detection rules. Zero values fall back to the
// defaults.
type Thresholds struct {
	Window                 time.Duration
	HighFrequencyThreshold int
	ShortSessionCutoff     time.Duration
	RapidCycleThreshold    int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Window == 0 {
		t.Window = DefaultWindow
	}
	if t.HighFrequencyThreshold == 0 {
		t.HighFrequencyThreshold = DefaultHighFrequencyThreshold
	}
	if t.ShortSessionCutoff == 0 {
		t.ShortSessionCutoff = DefaultShortSessionCutoff
	}
	if t.RapidCycleThreshold == 0 {
		t.RapidCycleThreshold = DefaultRapidCycleThreshold
	}
	return t
}

// Detector evaluates a wallet's recent session history against usage
// rules. Detection is pure: it inspects the provided records and
// returns findings without touching storage.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds.withDefaults()}
}

// Scan inspects the wallet's sessions within the lookback window ending
// at now and returns at most one finding per anomaly type. Records that
// started outside the window, or whose timestamps are inconsistent, are
// ignored rather than failing the scan.
func (d *Detector) Scan(wallet string, sessions []storage.Session, now time.Time) []storage.Anomaly {
	cutoff := now.Add(-d.thresholds.Window)

	var total, rapid int
	for _, s := range sessions {
		if s.Wallet != wallet || s.StartedAt.IsZero() || s.StartedAt.Before(cutoff) {
			continue
		}
		total++

		// Active sessions are measured to now.
		duration := s.Duration(now)
		if duration < 0 {
			continue
		}
		if duration < d.thresholds.ShortSessionCutoff {
			rapid++
		}
	}

	var findings []storage.Anomaly

	if total > d.thresholds.HighFrequencyThreshold {
		findings = append(findings, storage.Anomaly{
			Type:     storage.AnomalyHighFrequency,
			Wallet:   wallet,
			Severity: storage.SeverityMedium,
			Description: fmt.Sprintf("%d sessions in the last %s (threshold %d)",
				total, d.thresholds.Window, d.thresholds.HighFrequencyThreshold),
			CreatedAt: now,
		})
	}

	if rapid > d.thresholds.RapidCycleThreshold {
		findings = append(findings, storage.Anomaly{
			Type:     storage.AnomalyRapidCycling,
			Wallet:   wallet,
			Severity: storage.SeverityHigh,
			Description: fmt.Sprintf("%d sessions shorter than %s in the last %s (threshold %d)",
				rapid, d.thresholds.ShortSessionCutoff, d.thresholds.Window, d.thresholds.RapidCycleThreshold),
			CreatedAt: now,
		})
	}

	return findings
}

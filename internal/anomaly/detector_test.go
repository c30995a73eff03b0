package anomaly

import (
	"fmt"
	"testing"
	"time"

	"github.com/openlot/parkd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSessions(wallet string, count int, duration time.Duration, now time.Time) []storage.Session {
	sessions := make([]storage.Session, 0, count)
	for i := 0; i < count; i++ {
		started := now.Add(-time.Duration(i+1) * 10 * time.Minute)
		ended := started.Add(duration)
		sessions = append(sessions, storage.Session{
			ID:        fmt.Sprintf("session-%d", i),
			Wallet:    wallet,
			SpotID:    "lot-1-1",
			LotID:     "lot-1",
			StartedAt: started,
			EndedAt:   &ended,
			Status:    storage.SessionEnded,
		})
	}
	return sessions
}

func TestScan_HighFrequency(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	findings := detector.Scan("rA", makeSessions("rA", 11, 5*time.Minute, now), now)

	require.Len(t, findings, 1)
	assert.Equal(t, storage.AnomalyHighFrequency, findings[0].Type)
	assert.Equal(t, storage.SeverityMedium, findings[0].Severity)
	assert.Equal(t, "rA", findings[0].Wallet)
}

func TestScan_AtThresholdIsQuiet(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	// Exactly 10 sessions: the rule requires strictly more.
	findings := detector.Scan("rA", makeSessions("rA", 10, 5*time.Minute, now), now)
	assert.Empty(t, findings)
}

func TestScan_RapidCycling(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	findings := detector.Scan("rA", makeSessions("rA", 6, 30*time.Second, now), now)

	require.Len(t, findings, 1)
	assert.Equal(t, storage.AnomalyRapidCycling, findings[0].Type)
	assert.Equal(t, storage.SeverityHigh, findings[0].Severity)
}

func TestScan_SixtySecondSessionIsNotRapid(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	// Sessions of exactly the cutoff duration do not count as rapid.
	findings := detector.Scan("rA", makeSessions("rA", 6, 60*time.Second, now), now)
	assert.Empty(t, findings)
}

func TestScan_BothRulesFireOncePerType(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	// 20 sessions, all under a minute: both rules trip, one finding each.
	findings := detector.Scan("rA", makeSessions("rA", 20, 10*time.Second, now), now)

	require.Len(t, findings, 2)
	types := map[storage.AnomalyType]bool{}
	for _, f := range findings {
		types[f.Type] = true
	}
	assert.True(t, types[storage.AnomalyHighFrequency])
	assert.True(t, types[storage.AnomalyRapidCycling])
}

func TestScan_WindowExcludesOldSessions(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	sessions := makeSessions("rA", 8, 5*time.Minute, now)
	// Push enough history outside the window that the in-window count
	// stays below threshold.
	for i := 0; i < 8; i++ {
		started := now.Add(-25 * time.Hour).Add(-time.Duration(i) * time.Minute)
		ended := started.Add(5 * time.Minute)
		sessions = append(sessions, storage.Session{
			ID:        fmt.Sprintf("old-%d", i),
			Wallet:    "rA",
			StartedAt: started,
			EndedAt:   &ended,
			Status:    storage.SessionEnded,
		})
	}

	assert.Empty(t, detector.Scan("rA", sessions, now))
}

func TestScan_ActiveSessionsMeasuredToNow(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	// 11 still-active sessions, all running for over a minute: high
	// frequency fires, rapid cycling does not.
	sessions := make([]storage.Session, 0, 11)
	for i := 0; i < 11; i++ {
		sessions = append(sessions, storage.Session{
			ID:        fmt.Sprintf("session-%d", i),
			Wallet:    "rA",
			StartedAt: now.Add(-time.Duration(i+1) * time.Minute),
			Status:    storage.SessionActive,
		})
	}

	findings := detector.Scan("rA", sessions, now)
	require.Len(t, findings, 1)
	assert.Equal(t, storage.AnomalyHighFrequency, findings[0].Type)
}

func TestScan_YoungActiveSessionsAreRapid(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	// Six active sessions each only 10s old: no end timestamp yet, but
	// their running duration is under the cutoff.
	sessions := make([]storage.Session, 0, 6)
	for i := 0; i < 6; i++ {
		sessions = append(sessions, storage.Session{
			ID:        fmt.Sprintf("session-%d", i),
			Wallet:    "rA",
			StartedAt: now.Add(-10 * time.Second),
			Status:    storage.SessionActive,
		})
	}

	findings := detector.Scan("rA", sessions, now)
	require.Len(t, findings, 1)
	assert.Equal(t, storage.AnomalyRapidCycling, findings[0].Type)
	assert.Equal(t, storage.SeverityHigh, findings[0].Severity)
}

func TestScan_SkipsMalformedRecords(t *testing.T) {
	detector := NewDetector(Thresholds{})
	now := time.Now().UTC()

	sessions := makeSessions("rA", 4, 30*time.Second, now)

	// End before start: ignored, not counted as rapid.
	badEnd := now.Add(-2 * time.Hour)
	sessions = append(sessions, storage.Session{
		ID:        "backwards",
		Wallet:    "rA",
		StartedAt: now.Add(-time.Hour),
		EndedAt:   &badEnd,
		Status:    storage.SessionEnded,
	})
	// Zero start: ignored entirely.
	sessions = append(sessions, storage.Session{ID: "zero", Wallet: "rA", Status: storage.SessionEnded})

	assert.Empty(t, detector.Scan("rA", sessions, now))
}

func TestScan_CustomThresholds(t *testing.T) {
	detector := NewDetector(Thresholds{
		Window:                 time.Hour,
		HighFrequencyThreshold: 2,
		ShortSessionCutoff:     5 * time.Minute,
		RapidCycleThreshold:    1,
	})
	now := time.Now().UTC()

	findings := detector.Scan("rA", makeSessions("rA", 3, time.Minute, now), now)
	require.Len(t, findings, 2)
}

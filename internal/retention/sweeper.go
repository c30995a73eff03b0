package retention

import (
	"context"
	"time"

	"github.com/openlot/parkd/internal/clock"
	"github.com/openlot/parkd/internal/metrics"
	"github.com/openlot/parkd/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultRetention is how long ended sessions and resolved anomalies
// are kept before the sweeper removes them.
const DefaultRetention = 90 * 24 * time.Hour

// Sweeper removes expired records once a day at a configured time of
// day. Active sessions and unresolved anomalies are never touched.
type Sweeper struct {
	store     storage.Store
	retention time.Duration
	sweepTime time.Time // only hour and minute are used
	clk       clock.Clock
	logger    zerolog.Logger
	stopChan  chan struct{}
}

// NewSweeper creates a sweeper. sweepTime is HH:MM in local time.
func NewSweeper(store storage.Store, retention time.Duration, sweepTime string, clk clock.Clock, logger zerolog.Logger) (*Sweeper, error) {
	parsedTime, err := time.Parse("15:04", sweepTime)
	if err != nil {
		return nil, err
	}
	if retention == 0 {
		retention = DefaultRetention
	}

	return &Sweeper{
		store:     store,
		retention: retention,
		sweepTime: parsedTime,
		clk:       clk,
		logger:    logger.With().Str("component", "retention").Logger(),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins the daily sweep loop.
func (s *Sweeper) Start() {
	go s.run()
	s.logger.Info().
		Str("sweep_time", s.sweepTime.Format("15:04")).
		Dur("retention", s.retention).
		Msg("Retention sweeper started")
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Retention sweeper stopped")
}

func (s *Sweeper) run() {
	for {
		nextSweep := s.calculateNextSweep()
		waitDuration := time.Until(nextSweep)

		s.logger.Info().
			Time("next_sweep", nextSweep).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention sweep")

		select {
		case <-time.After(waitDuration):
			s.Sweep(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

func (s *Sweeper) calculateNextSweep() time.Time {
	now := s.clk.Now()

	todaySweep := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.sweepTime.Hour(), s.sweepTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todaySweep) {
		return todaySweep.AddDate(0, 0, 1)
	}

	return todaySweep
}

// Sweep removes ended sessions and resolved anomalies older than the
// retention period. Exposed for manual invocation.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.clk.Now().Add(-s.retention)
	s.logger.Info().Time("cutoff", cutoff).Msg("Performing retention sweep")

	sessionsDeleted, err := s.store.Sessions().DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sweep ended sessions")
	} else {
		metrics.RecordsSwept.WithLabelValues("session").Add(float64(sessionsDeleted))
	}

	anomaliesDeleted, err := s.store.Anomalies().DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sweep resolved anomalies")
	} else {
		metrics.RecordsSwept.WithLabelValues("anomaly").Add(float64(anomaliesDeleted))
	}

	s.logger.Info().
		Int("sessions_deleted", sessionsDeleted).
		Int("anomalies_deleted", anomaliesDeleted).
		Msg("Retention sweep complete")
}

// Package sweeper drives time-based retries and retention. A cron
// schedule claims failed logs whose retry time has passed and resubmits
// them through the dispatcher, and a nightly job archives old
// terminal-success logs.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/dispatch"
	"github.com/coverly/courier/internal/metrics"
)

// LogStore is the slice of the delivery log store the sweeper needs.
type LogStore interface {
	ClaimRetryable(ctx context.Context, limit int) ([]*db.NotificationLog, error)
	ArchiveTerminalSuccess(ctx context.Context, cutoff time.Time) (int64, error)
}

// Resender resubmits a claimed log to its provider.
type Resender interface {
	Resend(ctx context.Context, log *db.NotificationLog) dispatch.Outcome
}

// Config holds the sweeper schedules.
type Config struct {
	SweepSchedule   string
	SweepBatch      int
	ArchiveSchedule string
	RetentionDays   int
}

// Sweeper runs the periodic retry and archival jobs.
type Sweeper struct {
	store      LogStore
	dispatcher Resender
	config     Config
	logger     *zap.Logger
}

// New creates a sweeper.
func New(store LogStore, dispatcher Resender, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 50
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}

	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// SweepReadyRetries claims up to limit retry-eligible logs and resubmits
// each through the dispatcher. The claim flips rows back to pending
// atomically, so concurrent sweeps never pick the same row twice.
// Returns the number of logs resubmitted.
func (s *Sweeper) SweepReadyRetries(ctx context.Context, limit int) (int, error) {
	claimed, err := s.store.ClaimRetryable(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	metrics.RecordRetriesClaimed(len(claimed))
	s.logger.Info("sweeping retry-eligible notifications",
		zap.Int("claimed", len(claimed)),
	)

	for _, log := range claimed {
		outcome := s.dispatcher.Resend(ctx, log)
		if !outcome.Success {
			s.logger.Warn("retry attempt failed",
				zap.String("log_id", log.ID.String()),
				zap.String("reason", outcome.Reason),
				zap.Int("retry_count", log.RetryCount),
			)
		}
	}

	return len(claimed), nil
}

// ArchiveExpired removes delivered and read logs older than the
// retention window.
func (s *Sweeper) ArchiveExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	return s.store.ArchiveTerminalSuccess(ctx, cutoff)
}

// Schedule registers the sweep and archive jobs on the cron runner.
// Each run gets its own bounded context so a stuck provider cannot
// stall the schedule.
func (s *Sweeper) Schedule(c *cron.Cron) error {
	if _, err := c.AddFunc(s.config.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := s.SweepReadyRetries(ctx, s.config.SweepBatch); err != nil {
			s.logger.Error("retry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(s.config.ArchiveSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if _, err := s.ArchiveExpired(ctx); err != nil {
			s.logger.Error("archival sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Archiver moves settled predictions past the retention window into cold
// storage and snapshots the current standings.
type Archiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int64, error)
	SnapshotLeaderboard(ctx context.Context) (string, error)
}

// ArchiveRunner executes the archiver once per day at a fixed UTC hour.
type ArchiveRunner struct {
	archiver      Archiver
	retentionDays int
	hourUTC       int
	logger        *slog.Logger
}

// NewArchiveRunner creates an ArchiveRunner. hourUTC is clamped to [0, 23];
// retentionDays defaults to 30 when non-positive.
func NewArchiveRunner(archiver Archiver, retentionDays, hourUTC int, logger *slog.Logger) *ArchiveRunner {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if hourUTC < 0 || hourUTC > 23 {
		hourUTC = 3
	}
	return &ArchiveRunner{
		archiver:      archiver,
		retentionDays: retentionDays,
		hourUTC:       hourUTC,
		logger:        logger.With(slog.String("component", "archive_runner")),
	}
}

// Run executes a single archive pass.
func (r *ArchiveRunner) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays)

	archived, err := r.archiver.ArchiveSettled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive settled before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	key, err := r.archiver.SnapshotLeaderboard(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: snapshot leaderboard: %w", err)
	}

	r.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("predictions_archived", archived),
		slog.String("snapshot_key", key),
	)
	return nil
}

// RunDaily waits for the configured UTC hour, runs, and repeats until the
// context is cancelled.
func (r *ArchiveRunner) RunDaily(ctx context.Context) error {
	r.logger.Info("archive runner started",
		slog.Int("hour_utc", r.hourUTC),
		slog.Int("retention_days", r.retentionDays),
	)

	for {
		next := nextRunAt(time.Now().UTC(), r.hourUTC)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("archive runner stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// nextRunAt returns the next occurrence of hourUTC:00 strictly after now.
func nextRunAt(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

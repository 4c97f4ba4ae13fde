package ledger

import (
	"context"
	"log/slog"
	"time"
)

// RetentionCleaner deletes ledger rows older than a fixed number of days.
type RetentionCleaner struct {
	store  *Store
	days   int
	every  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRetentionCleaner returns nil when days <= 0 (retention disabled).
func NewRetentionCleaner(store *Store, days int, logger *slog.Logger) *RetentionCleaner {
	if days <= 0 || store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionCleaner{
		store:  store,
		days:   days,
		every:  time.Hour,
		logger: logger,
		now:    time.Now,
	}
}

// Run cleans once immediately to catch up after downtime, then hourly until
// ctx is done.
func (rc *RetentionCleaner) Run(ctx context.Context) error {
	rc.Cleanup(ctx)

	ticker := time.NewTicker(rc.every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.Cleanup(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Cleanup runs one deletion pass and returns the number of cycles removed.
func (rc *RetentionCleaner) Cleanup(ctx context.Context) int64 {
	cutoff := rc.now().Add(-time.Duration(rc.days) * 24 * time.Hour)
	n, err := rc.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			rc.logger.Warn("ledger retention cleanup failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		rc.logger.Info("ledger retention cleanup", "deleted", n, "retention_days", rc.days)
	}
	return n
}

package core

// scheduler.go runs background maintenance for the audit trail.
//
// The retention job deletes audit entries older than the retention window
// in batches so it never holds long locks on audit_log. It runs once on
// start, then every CheckInterval until the context is cancelled. A failed
// run is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig holds configuration for the audit retention job.
type RetentionConfig struct {
	RetentionDays int           // Days to keep audit entries (default: 365)
	BatchSize     int           // Rows per delete batch (default: 5000)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 365
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

const pruneAuditSQL = `DELETE FROM audit_log WHERE id IN (
	SELECT id FROM audit_log WHERE created_at < $1 ORDER BY created_at LIMIT $2)`

// StartRetentionScheduler blocks, pruning the audit log periodically until
// ctx is cancelled. It returns immediately when auditing is disabled.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	if s.audit == nil {
		return
	}
	cfg = cfg.withDefaults()

	slog.Info("audit retention scheduler started",
		"retention_days", cfg.RetentionDays,
		"batch_size", cfg.BatchSize,
		"interval", cfg.CheckInterval,
	)

	s.runRetentionJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("audit retention scheduler stopped")
			return
		case <-ticker.C:
			s.runRetentionJob(ctx, cfg)
		}
	}
}

func (s *Service) runRetentionJob(ctx context.Context, cfg RetentionConfig) {
	start := time.Now()
	cutoff := s.clock.Now().AddDate(0, 0, -cfg.RetentionDays)

	purged, err := s.PruneAuditLog(ctx, cutoff, cfg.BatchSize)
	if err != nil {
		slog.Error("audit retention failed", "error", err, "entries_purged", purged)
		return
	}
	slog.Info("audit retention completed",
		"entries_purged", purged,
		"cutoff", cutoff,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// PruneAuditLog deletes audit entries created before cutoff, batchSize rows
// per statement, and returns how many were removed.
func (s *Service) PruneAuditLog(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 5000
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, classify(err, "prune audit log")
		}
		tag, err := s.pools.Pool().Exec(ctx, pruneAuditSQL, cutoff, batchSize)
		if err != nil {
			return total, classify(err, "prune audit log")
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(batchSize) {
			return total, nil
		}
	}
}

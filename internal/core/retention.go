package core

// retention.go runs the periodic purge of old export audit entries.
//
// The job runs once on start and then every interval until ctx is cancelled.
// Individual purge failures are logged and do not stop the loop.

import (
	"context"
	"log/slog"
	"time"
)

// AuditPurger deletes audit entries older than a cutoff.
type AuditPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig holds configuration for the audit retention job.
type RetentionConfig struct {
	RetentionDays int           // Days to keep export events (default: 90)
	Interval      time.Duration // How often to run (default: 24h)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	return c
}

// StartAuditRetention blocks, purging expired entries on every tick.
func StartAuditRetention(ctx context.Context, purger AuditPurger, cfg RetentionConfig, clock func() time.Time) {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = time.Now
	}

	slog.Info("audit retention started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.Interval.String(),
	)

	runAuditPurge(ctx, purger, cfg, clock)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("audit retention stopped")
			return
		case <-ticker.C:
			runAuditPurge(ctx, purger, cfg, clock)
		}
	}
}

// runAuditPurge performs one purge cycle and returns the number of rows removed.
func runAuditPurge(ctx context.Context, purger AuditPurger, cfg RetentionConfig, clock func() time.Time) int64 {
	start := time.Now()
	cutoff := clock().AddDate(0, 0, -cfg.RetentionDays)

	purged, err := purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		slog.Error("audit purge failed", "error", err)
		return 0
	}

	slog.Info("purged export audit entries",
		"entries_purged", purged,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return purged
}

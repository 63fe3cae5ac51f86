package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// AuditRetention moves audit rows older than the retention window to cold
// storage.
type AuditRetention struct {
	archiver      domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewAuditRetention creates an AuditRetention. A non-positive retention
// keeps 30 days.
func NewAuditRetention(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *AuditRetention {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &AuditRetention{
		archiver:      archiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "audit_retention")),
	}
}

// Cutoff returns the instant before which audit rows are archived.
func (a *AuditRetention) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive run.
func (a *AuditRetention) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("audit_archived", n))
	return nil
}

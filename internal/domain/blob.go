package domain

import (
	"context"
	"io"
	"time"
)

// Report is an archived settlement summary. The caller closes Body.
type Report struct {
	Path         string
	Size         int64
	LastModified time.Time
	Body         io.ReadCloser
}

// ReportWriter archives settlement summaries and returns the stored path.
type ReportWriter interface {
	PutReport(ctx context.Context, summary SettlementSummary) (string, error)
}

// ReportReader returns the newest archived report of a prediction, or
// ErrNotFound when none exists.
type ReportReader interface {
	LatestReport(ctx context.Context, predictionID string) (Report, error)
}

// Archiver moves old data from the database to cold storage.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

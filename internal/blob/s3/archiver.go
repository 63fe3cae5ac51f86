package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// AuditArchiveStore is the part of the audit store the archiver needs.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
	DeleteThrough(ctx context.Context, before time.Time, maxID int64) (int64, error)
}

// ArchiveWriter stores one archive batch. *Writer implements it.
type ArchiveWriter interface {
	PutArchive(ctx context.Context, kind string, before time.Time, body []byte) (string, error)
}

// AuditArchiver implements domain.Archiver: it copies audit rows older than
// a cutoff to object storage as JSONL and, when pruning is enabled, deletes
// the copied rows afterwards.
type AuditArchiver struct {
	writer ArchiveWriter
	store  AuditArchiveStore
	audit  domain.AuditStore
	prune  bool
}

// NewAuditArchiver creates an AuditArchiver. Rows are only deleted when
// prune is true and the upload succeeded.
func NewAuditArchiver(writer ArchiveWriter, store AuditArchiveStore, audit domain.AuditStore, prune bool) *AuditArchiver {
	return &AuditArchiver{
		writer: writer,
		store:  store,
		audit:  audit,
		prune:  prune,
	}
}

// ArchiveAudit uploads every audit row created before the cutoff and returns
// how many rows were archived.
func (a *AuditArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path, err := a.writer.PutArchive(ctx, "audit", before, buf)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	var maxID int64
	for _, e := range entries {
		if e.ID > maxID {
			maxID = e.ID
		}
	}

	var pruned int64
	if a.prune {
		pruned, err = a.store.DeleteThrough(ctx, before, maxID)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive audit prune: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.audit", map[string]any{
			"path":   path,
			"count":  count,
			"pruned": pruned,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}

	return count, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver = (*AuditArchiver)(nil)
	_ ArchiveWriter   = (*Writer)(nil)
)

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

const keyTime = "20060102T150405Z"

// ReportPrefix is the key prefix holding every report of a prediction.
func ReportPrefix(predictionID string) string {
	return "settlements/" + predictionID + "/"
}

func reportKey(predictionID string, settledAt time.Time) string {
	return ReportPrefix(predictionID) + settledAt.UTC().Format(keyTime) + ".json"
}

func archiveKey(kind string, before time.Time) string {
	return "archive/" + kind + "/" + before.UTC().Format(keyTime) + ".jsonl"
}

// Writer uploads settlement reports and archive batches. Bodies that fit in
// one part go up as a single PutObject; larger ones use a multipart upload.
type Writer struct {
	bucket   string
	uploader *manager.Uploader
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		bucket:   c.bucket,
		uploader: manager.NewUploader(c.api),
	}
}

// PutReport stores a settlement summary under its prediction's prefix, keyed
// by settlement time, and returns the key.
func (w *Writer) PutReport(ctx context.Context, summary domain.SettlementSummary) (string, error) {
	if summary.PredictionID == "" {
		return "", fmt.Errorf("s3blob: put report: %w", domain.ErrInvalidInput)
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("s3blob: put report %s: %w", summary.PredictionID, err)
	}
	key := reportKey(summary.PredictionID, summary.SettledAt)
	if err := w.upload(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// PutArchive stores one newline-delimited JSON batch of the given kind,
// keyed by its cutoff, and returns the key.
func (w *Writer) PutArchive(ctx context.Context, kind string, before time.Time, body []byte) (string, error) {
	key := archiveKey(kind, before)
	if err := w.upload(ctx, key, body, "application/x-ndjson"); err != nil {
		return "", err
	}
	return key, nil
}

func (w *Writer) upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

var _ domain.ReportWriter = (*Writer)(nil)

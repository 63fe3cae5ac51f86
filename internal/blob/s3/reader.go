package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// Reader fetches archived settlement reports.
type Reader struct {
	api    *s3.Client
	bucket string
}

// NewReader creates a Reader for the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.api, bucket: c.bucket}
}

// LatestReport returns the newest report stored for a prediction. Keys are
// time-ordered, so the newest report is the greatest key under the prefix.
func (r *Reader) LatestReport(ctx context.Context, predictionID string) (domain.Report, error) {
	prefix := ReportPrefix(predictionID)

	var latest *types.Object
	pages := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return domain.Report{}, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for i := range page.Contents {
			obj := &page.Contents[i]
			if latest == nil || aws.ToString(obj.Key) > aws.ToString(latest.Key) {
				latest = obj
			}
		}
	}
	if latest == nil {
		return domain.Report{}, fmt.Errorf("s3blob: report %s: %w", predictionID, domain.ErrNotFound)
	}

	key := aws.ToString(latest.Key)
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// Removed between the listing and the read.
		if isNotFound(err) {
			return domain.Report{}, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return domain.Report{}, fmt.Errorf("s3blob: get %s: %w", key, err)
	}

	report := domain.Report{
		Path: key,
		Size: aws.ToInt64(latest.Size),
		Body: out.Body,
	}
	if latest.LastModified != nil {
		report.LastModified = *latest.LastModified
	}
	return report, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	// S3-compatible providers do not always send a typed error body.
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.ReportReader = (*Reader)(nil)

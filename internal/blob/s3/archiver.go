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

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to
// the multipart manager.
const multipartThreshold = 5 * 1024 * 1024

// Archiver implements domain.TradeArchiver by serializing pruned trade
// records to JSONL and uploading them to S3, one object per calendar
// month. Re-archiving the same month appends a timestamped object
// rather than overwriting, so no pruned record is ever lost to a
// collision.
type Archiver struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

var _ domain.TradeArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver writing to the client's bucket.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{
		client: c.s3,
		bucket: c.bucket,
		now:    time.Now,
	}
}

// ArchiveTrades uploads the records as JSONL under
// archive/trades/YYYY-MM/<upload-timestamp>.jsonl.
func (a *Archiver) ArchiveTrades(ctx context.Context, recs []domain.TradeRecord, month time.Time) error {
	if len(recs) == 0 {
		return nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	key := fmt.Sprintf("archive/trades/%s/%s.jsonl",
		month.Format("2006-01"), a.now().UTC().Format("20060102T150405Z"))

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/x-ndjson"),
	}

	if len(buf) >= multipartThreshold {
		uploader := manager.NewUploader(a.client)
		if _, err := uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: archive trades multipart upload %s: %w", key, err)
		}
		return nil
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: archive trades upload %s: %w", key, err)
	}
	return nil
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

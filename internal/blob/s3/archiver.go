package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// EventSource is the slice of the event store the archiver needs: reading
// rows older than a cutoff and deleting them once the upload succeeded.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiver moves aged trade events out of Postgres into object storage
// as newline-delimited JSON, one file per calendar month of the cutoff.
// Rows are deleted only after the upload has succeeded, so a failed upload
// leaves the database untouched and the next run retries the same window.
type EventArchiver struct {
	writer domain.BlobWriter
	events EventSource
	logger *slog.Logger
}

// NewEventArchiver creates an EventArchiver.
func NewEventArchiver(writer domain.BlobWriter, events EventSource, logger *slog.Logger) *EventArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventArchiver{
		writer: writer,
		events: events,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveEvents uploads every event older than before to
// archive/events/YYYY-MM.jsonl and then deletes the archived rows. It
// returns the number of rows removed from the database.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := encodeJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive encode: %w", err)
	}

	path := archivePath(before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}

	deleted, err := a.events.DeleteBefore(ctx, before)
	if err != nil {
		// The upload already landed. Report the error so the caller can
		// retry the delete; re-archiving the same rows is harmless.
		return 0, fmt.Errorf("s3blob: archive prune: %w", err)
	}

	a.logger.Info("archived events",
		"path", path,
		"uploaded", len(events),
		"deleted", deleted,
		"before", before.Format(time.RFC3339))

	return deleted, nil
}

// multipartThreshold switches archive uploads to the parallel multipart
// path. Months with heavy flow can dump payloads of hundreds of MiB.
const multipartThreshold = 8 << 20

// upload picks the single-shot or multipart path based on payload size.
func (a *EventArchiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath partitions archives by the year-month of the cutoff, e.g.
// archive/events/2026-08.jsonl.
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/events/%s.jsonl", before.UTC().Format("2006-01"))
}

// encodeJSONL renders records as one compact JSON document per line.
func encodeJSONL(events []domain.TradeEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range events {
		if err := enc.Encode(events[i]); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*EventArchiver)(nil)

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// defaultBatchSize bounds how many history rows one archive part holds.
const defaultBatchSize = 50_000

// HistoryArchiver implements domain.HistoryArchiver. Old probability history
// is serialized to JSONL, uploaded under archive/probability_history/, and
// only then deleted from the primary store.
type HistoryArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	history   domain.HistoryStore
	audit     domain.AuditStore
	logger    *slog.Logger
	batchSize int
}

// NewHistoryArchiver creates a new HistoryArchiver.
func NewHistoryArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	history domain.HistoryStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *HistoryArchiver {
	return &HistoryArchiver{
		writer:    writer,
		reader:    reader,
		history:   history,
		audit:     audit,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
}

// archivedRecord is the JSONL line format of an archived history row.
type archivedRecord struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	OptionID    string    `json:"option_id"`
	Probability float64   `json:"probability"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ArchiveHistory moves every history record older than before to object
// storage and returns the number of records archived.
func (a *HistoryArchiver) ArchiveHistory(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		n, more, err := a.archiveBatch(ctx, before)
		total += n
		if err != nil {
			return total, err
		}
		if !more {
			break
		}
	}
	if total == 0 {
		return 0, nil
	}

	if err := a.audit.Log(ctx, "archive.probability_history", map[string]any{
		"count":  total,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3blob: archive history audit log: %w", err)
	}
	a.logger.InfoContext(ctx, "archiver: probability history archived",
		slog.Int64("count", total),
		slog.Time("before", before),
	)
	return total, nil
}

// archiveBatch uploads and deletes one batch. A full batch is cut at its
// last timestamp so rows sharing that instant stay together.
func (a *HistoryArchiver) archiveBatch(ctx context.Context, before time.Time) (int64, bool, error) {
	records, err := a.history.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, false, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(records) == 0 {
		return 0, false, nil
	}

	cutoff := before
	more := len(records) == a.batchSize
	if more {
		last := records[len(records)-1].RecordedAt
		i := len(records)
		for i > 0 && records[i-1].RecordedAt.Equal(last) {
			i--
		}
		if i > 0 {
			records = records[:i]
			cutoff = last
		} else {
			// The whole batch shares one instant; take every row at it.
			cutoff = last.Add(time.Microsecond)
			if cutoff.After(before) {
				cutoff = before
			}
			if records, err = a.history.ListBefore(ctx, cutoff, 0); err != nil {
				return 0, false, fmt.Errorf("s3blob: archive history query: %w", err)
			}
		}
	}

	lines := make([]archivedRecord, len(records))
	for i, r := range records {
		lines[i] = archivedRecord(r)
	}
	buf, err := marshalJSONL(lines)
	if err != nil {
		return 0, false, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	path, err := a.nextPath(ctx, before)
	if err != nil {
		return 0, false, err
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, false, fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	if _, err := a.history.DeleteBefore(ctx, cutoff); err != nil {
		return 0, false, fmt.Errorf("s3blob: archive history delete: %w", err)
	}
	return int64(len(records)), more, nil
}

// nextPath returns the first unused key for the cutoff's month:
//
//	archive/probability_history/2025-01.jsonl
//	archive/probability_history/2025-01.2.jsonl
func (a *HistoryArchiver) nextPath(ctx context.Context, before time.Time) (string, error) {
	base := archivePath("probability_history", before)
	existing, err := a.reader.List(ctx, strings.TrimSuffix(base, ".jsonl"))
	if err != nil {
		return "", fmt.Errorf("s3blob: archive history list: %w", err)
	}
	if len(existing) == 0 {
		return base, nil
	}
	return fmt.Sprintf("%s.%d.jsonl", strings.TrimSuffix(base, ".jsonl"), len(existing)+1), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

var _ domain.HistoryArchiver = (*HistoryArchiver)(nil)

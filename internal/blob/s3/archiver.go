package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

// archiveBatchLimit caps how many rows one archival run drains. A capped run
// only deletes up to the last archived row, so the remainder is picked up by
// the next run.
const archiveBatchLimit = 10000

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// TransactionArchiveSource is the slice of the transaction store the
// archiver needs. The Postgres store satisfies it implicitly.
type TransactionArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CycleArchiveSource is the slice of the cycle store the archiver needs.
type CycleArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.CycleResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver: it drains aged rows from the primary
// store into monthly JSONL objects, then deletes the archived rows.
//
// Records are partitioned by the month they were produced in, and uploads
// merge with any object already at the key, so repeated runs within a month
// append rather than overwrite. A run that fails between upload and delete
// re-archives the same rows next time; duplicate lines in an archive are
// preferred over lost ones.
type Archiver struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	transactions TransactionArchiveSource
	cycles       CycleArchiveSource
	audit        domain.AuditStore
	logger       *slog.Logger
}

// ArchiverConfig configures an Archiver.
type ArchiverConfig struct {
	Writer       domain.BlobWriter
	Reader       domain.BlobReader
	Transactions TransactionArchiveSource
	Cycles       CycleArchiveSource
	Audit        domain.AuditStore
	Logger       *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig) *Archiver {
	return &Archiver{
		writer:       cfg.Writer,
		reader:       cfg.Reader,
		transactions: cfg.Transactions,
		cycles:       cfg.Cycles,
		audit:        cfg.Audit,
		logger:       cfg.Logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTransactions archives transactions submitted before the cutoff to
// archive/transactions/YYYY-MM.jsonl objects and deletes the archived rows.
// It returns the number of records archived.
func (a *Archiver) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	txs, err := a.transactions.ListBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	groups, err := groupByMonth(txs, func(tx domain.Transaction) time.Time { return tx.SubmittedAt })
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions marshal: %w", err)
	}
	paths, err := a.uploadGroups(ctx, "transactions", groups)
	if err != nil {
		return 0, err
	}

	// A capped run has not seen every row before the cutoff; only rows
	// strictly older than the last archived one are provably covered.
	deleteCutoff := before
	if len(txs) == archiveBatchLimit {
		deleteCutoff = txs[len(txs)-1].SubmittedAt
	}
	deleted, err := a.transactions.DeleteBefore(ctx, deleteCutoff)
	if err != nil {
		return int64(len(txs)), fmt.Errorf("s3blob: archive transactions delete: %w", err)
	}

	a.finishRun(ctx, "archive.transactions", paths, int64(len(txs)), deleted, before)
	return int64(len(txs)), nil
}

// ArchiveCycles archives cycle results started before the cutoff to
// archive/cycles/YYYY-MM.jsonl objects and deletes the archived rows.
// It returns the number of records archived.
func (a *Archiver) ArchiveCycles(ctx context.Context, before time.Time) (int64, error) {
	cycles, err := a.cycles.ListBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles query: %w", err)
	}
	if len(cycles) == 0 {
		return 0, nil
	}

	groups, err := groupByMonth(cycles, func(c domain.CycleResult) time.Time { return c.StartedAt })
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles marshal: %w", err)
	}
	paths, err := a.uploadGroups(ctx, "cycles", groups)
	if err != nil {
		return 0, err
	}

	deleteCutoff := before
	if len(cycles) == archiveBatchLimit {
		deleteCutoff = cycles[len(cycles)-1].StartedAt
	}
	deleted, err := a.cycles.DeleteBefore(ctx, deleteCutoff)
	if err != nil {
		return int64(len(cycles)), fmt.Errorf("s3blob: archive cycles delete: %w", err)
	}

	a.finishRun(ctx, "archive.cycles", paths, int64(len(cycles)), deleted, before)
	return int64(len(cycles)), nil
}

// uploadGroups writes each month's JSONL buffer to its object, merging with
// whatever is already stored there. Months are uploaded in order so a
// failure leaves a clean prefix of the run persisted.
func (a *Archiver) uploadGroups(ctx context.Context, kind string, groups map[string]*bytes.Buffer) ([]string, error) {
	months := make([]string, 0, len(groups))
	for month := range groups {
		months = append(months, month)
	}
	sort.Strings(months)

	paths := make([]string, 0, len(months))
	for _, month := range months {
		path := archivePath(kind, month)
		if err := a.appendObject(ctx, path, groups[month].Bytes()); err != nil {
			return nil, fmt.Errorf("s3blob: archive %s upload %s: %w", kind, path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// appendObject uploads data to path, prepending the existing object body when
// one is already there.
func (a *Archiver) appendObject(ctx context.Context, path string, data []byte) error {
	var existing []byte
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		rc, err := a.reader.Get(ctx, path)
		if err != nil {
			return err
		}
		existing, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read existing archive: %w", err)
		}
	}

	total := int64(len(existing) + len(data))
	body := io.MultiReader(bytes.NewReader(existing), bytes.NewReader(data))
	if total > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, body, multipartThreshold)
	}
	return a.writer.Put(ctx, path, body, "application/x-ndjson")
}

// finishRun records the outcome in the audit log and the process log. Audit
// failures only warn; the archive itself already succeeded.
func (a *Archiver) finishRun(ctx context.Context, event string, paths []string, archived, deleted int64, before time.Time) {
	if a.audit != nil {
		err := a.audit.Log(ctx, event, map[string]any{
			"paths":    paths,
			"archived": archived,
			"deleted":  deleted,
			"before":   before.Format(time.RFC3339),
		})
		if err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.String("event", event),
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
		slog.Int("objects", len(paths)),
	)
}

// archivePath builds the S3 key for one month's archive file.
//
//	archive/transactions/2025-01.jsonl
//	archive/cycles/2025-01.jsonl
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// groupByMonth serialises records into per-month JSONL buffers keyed by the
// record's own timestamp, so a January transaction lands in the January file
// no matter when it is archived.
func groupByMonth[T any](records []T, at func(T) time.Time) (map[string]*bytes.Buffer, error) {
	groups := make(map[string]*bytes.Buffer)
	for i, rec := range records {
		month := at(rec).UTC().Format("2006-01")
		buf, ok := groups[month]
		if !ok {
			buf = &bytes.Buffer{}
			groups[month] = buf
		}

		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return groups, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)

package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

type fakeWriter struct {
	objects map[string][]byte
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = map[string][]byte{}
	}
	w.objects[path] = body
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeReader struct {
	objects map[string][]byte
}

func (r *fakeReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := r.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (r *fakeReader) List(_ context.Context, _ string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (r *fakeReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := r.objects[path]
	return ok, nil
}

type fakeTxSource struct {
	rows         []domain.Transaction
	deleteCutoff time.Time
	deleted      bool
}

func (s *fakeTxSource) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range s.rows {
		if tx.SubmittedAt.Before(before) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTxSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = true
	s.deleteCutoff = before
	var n int64
	for _, tx := range s.rows {
		if tx.SubmittedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

type fakeCycleSource struct {
	rows []domain.CycleResult
}

func (s *fakeCycleSource) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.CycleResult, error) {
	var out []domain.CycleResult
	for _, c := range s.rows {
		if c.StartedAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeCycleSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for _, c := range s.rows {
		if c.StartedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

type fakeAudit struct {
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testArchiver(writer *fakeWriter, reader *fakeReader, txs *fakeTxSource, cycles *fakeCycleSource, audit *fakeAudit) *Archiver {
	return NewArchiver(ArchiverConfig{
		Writer:       writer,
		Reader:       reader,
		Transactions: txs,
		Cycles:       cycles,
		Audit:        audit,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func txAt(id string, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		Mode:        domain.ModePaper,
		Status:      domain.TxSimulated,
		SubmittedAt: at,
	}
}

func TestArchiveTransactionsGroupsByMonth(t *testing.T) {
	jan := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	writer := &fakeWriter{}
	txs := &fakeTxSource{rows: []domain.Transaction{
		txAt("t1", jan),
		txAt("t2", jan.Add(time.Hour)),
		txAt("t3", feb),
	}}
	audit := &fakeAudit{}
	arch := testArchiver(writer, &fakeReader{}, txs, &fakeCycleSource{}, audit)

	count, err := arch.ArchiveTransactions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTransactions() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	janBody, ok := writer.objects["archive/transactions/2026-01.jsonl"]
	if !ok {
		t.Fatalf("missing January object, got keys %v", keysOf(writer.objects))
	}
	if lines := bytes.Count(janBody, []byte("\n")); lines != 2 {
		t.Errorf("January lines = %d, want 2", lines)
	}
	if !bytes.Contains(janBody, []byte(`"t1"`)) || !bytes.Contains(janBody, []byte(`"t2"`)) {
		t.Errorf("January body missing records: %s", janBody)
	}

	febBody, ok := writer.objects["archive/transactions/2026-02.jsonl"]
	if !ok {
		t.Fatal("missing February object")
	}
	if lines := bytes.Count(febBody, []byte("\n")); lines != 1 {
		t.Errorf("February lines = %d, want 1", lines)
	}

	if !txs.deleted {
		t.Error("archived rows were not deleted")
	}
	if !txs.deleteCutoff.Equal(cutoff) {
		t.Errorf("delete cutoff = %v, want %v", txs.deleteCutoff, cutoff)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.transactions" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func TestArchiveTransactionsAppendsToExisting(t *testing.T) {
	jan := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	existing := []byte("{\"ID\":\"old\"}\n")

	writer := &fakeWriter{}
	reader := &fakeReader{objects: map[string][]byte{
		"archive/transactions/2026-01.jsonl": existing,
	}}
	txs := &fakeTxSource{rows: []domain.Transaction{txAt("new", jan)}}
	arch := testArchiver(writer, reader, txs, &fakeCycleSource{}, &fakeAudit{})

	if _, err := arch.ArchiveTransactions(context.Background(), jan.AddDate(0, 3, 0)); err != nil {
		t.Fatalf("ArchiveTransactions() error = %v", err)
	}

	body := writer.objects["archive/transactions/2026-01.jsonl"]
	if !bytes.HasPrefix(body, existing) {
		t.Errorf("existing lines were not preserved: %s", body)
	}
	if !bytes.Contains(body, []byte(`"new"`)) {
		t.Errorf("new record missing: %s", body)
	}
	if lines := bytes.Count(body, []byte("\n")); lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}

func TestArchiveTransactionsNothingToDo(t *testing.T) {
	writer := &fakeWriter{}
	txs := &fakeTxSource{}
	audit := &fakeAudit{}
	arch := testArchiver(writer, &fakeReader{}, txs, &fakeCycleSource{}, audit)

	count, err := arch.ArchiveTransactions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveTransactions() error = %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(writer.objects) != 0 {
		t.Errorf("unexpected uploads: %v", keysOf(writer.objects))
	}
	if txs.deleted {
		t.Error("delete ran with nothing archived")
	}
	if len(audit.events) != 0 {
		t.Errorf("unexpected audit events: %v", audit.events)
	}
}

func TestArchiveTransactionsUploadFailureSkipsDelete(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket gone")}
	txs := &fakeTxSource{rows: []domain.Transaction{
		txAt("t1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}}
	arch := testArchiver(writer, &fakeReader{}, txs, &fakeCycleSource{}, &fakeAudit{})

	_, err := arch.ArchiveTransactions(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected upload error")
	}
	if txs.deleted {
		t.Error("rows deleted despite failed upload")
	}
}

func TestArchiveTransactionsCappedRunBoundsDelete(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]domain.Transaction, archiveBatchLimit+5)
	for i := range rows {
		rows[i] = txAt(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Second))
	}
	cutoff := base.AddDate(1, 0, 0)

	writer := &fakeWriter{}
	txs := &fakeTxSource{rows: rows}
	arch := testArchiver(writer, &fakeReader{}, txs, &fakeCycleSource{}, &fakeAudit{})

	count, err := arch.ArchiveTransactions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTransactions() error = %v", err)
	}
	if count != archiveBatchLimit {
		t.Fatalf("count = %d, want %d", count, archiveBatchLimit)
	}

	// The deletion must stop at the last archived row, not the requested
	// cutoff, or the 5 unarchived rows would be lost.
	wantCutoff := rows[archiveBatchLimit-1].SubmittedAt
	if !txs.deleteCutoff.Equal(wantCutoff) {
		t.Errorf("delete cutoff = %v, want %v", txs.deleteCutoff, wantCutoff)
	}
}

func TestArchiveCycles(t *testing.T) {
	mar := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	writer := &fakeWriter{}
	cycles := &fakeCycleSource{rows: []domain.CycleResult{
		{ID: "c1", Mode: domain.ModePaper, StartedAt: mar},
		{ID: "c2", Mode: domain.ModePaper, StartedAt: mar.Add(time.Hour)},
	}}
	audit := &fakeAudit{}
	arch := testArchiver(writer, &fakeReader{}, &fakeTxSource{}, cycles, audit)

	count, err := arch.ArchiveCycles(context.Background(), mar.AddDate(0, 2, 0))
	if err != nil {
		t.Fatalf("ArchiveCycles() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	body, ok := writer.objects["archive/cycles/2026-03.jsonl"]
	if !ok {
		t.Fatalf("missing cycles object, got keys %v", keysOf(writer.objects))
	}
	if lines := bytes.Count(body, []byte("\n")); lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.cycles" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestArchivePath(t *testing.T) {
	got := archivePath("transactions", "2026-01")
	if got != "archive/transactions/2026-01.jsonl" {
		t.Errorf("archivePath() = %q", got)
	}
	if strings.Contains(got, "//") {
		t.Errorf("archivePath() produced double slash: %q", got)
	}
}

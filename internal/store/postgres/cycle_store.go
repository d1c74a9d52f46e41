package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbontempi/arbot/internal/domain"
)

const cycleCols = `id, mode, started_at, relationships, intra_opportunities, cross_opportunities, transactions, metrics`

// CycleStore implements domain.CycleStore using PostgreSQL.
//
// A cycle result is written once when the cycle finishes and read back
// whole, so the nested slices are stored as JSONB blobs rather than
// normalised into their own tables. Transactions additionally get their own
// rows through TransactionStore for queryability.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Create inserts a finished cycle result.
func (s *CycleStore) Create(ctx context.Context, res domain.CycleResult) error {
	rels, err := json.Marshal(res.Relationships)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle relationships: %w", err)
	}
	intra, err := json.Marshal(res.IntraOpportunities)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle intra opportunities: %w", err)
	}
	cross, err := json.Marshal(res.CrossOpportunities)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle cross opportunities: %w", err)
	}
	txs, err := json.Marshal(res.Transactions)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle transactions: %w", err)
	}
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle metrics: %w", err)
	}

	const query = `
		INSERT INTO cycles (` + cycleCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		res.ID, string(res.Mode), res.StartedAt, rels, intra, cross, txs, metrics)
	if err != nil {
		return fmt.Errorf("postgres: create cycle %s: %w", res.ID, err)
	}
	return nil
}

// GetByID returns a cycle result by id.
func (s *CycleStore) GetByID(ctx context.Context, id string) (domain.CycleResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cycleCols+` FROM cycles WHERE id = $1`, id)
	res, err := scanCycle(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CycleResult{}, domain.ErrNotFound
		}
		return domain.CycleResult{}, fmt.Errorf("postgres: get cycle %s: %w", id, err)
	}
	return res, nil
}

// ListRecent returns the most recent cycle results, newest first.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]domain.CycleResult, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + cycleCols + ` FROM cycles
		ORDER BY started_at DESC LIMIT $1`
	return s.queryCycles(ctx, query, limit)
}

// ListBefore returns up to limit cycles started before the cutoff, oldest
// first. Used by the archiver.
func (s *CycleStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.CycleResult, error) {
	const query = `SELECT ` + cycleCols + ` FROM cycles
		WHERE started_at < $1 ORDER BY started_at LIMIT $2`
	return s.queryCycles(ctx, query, before, limit)
}

// DeleteBefore removes cycles started before the cutoff and returns how many
// rows were deleted.
func (s *CycleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cycles WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete cycles before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *CycleStore) queryCycles(ctx context.Context, query string, args ...any) ([]domain.CycleResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	defer rows.Close()

	var list []domain.CycleResult
	for rows.Next() {
		res, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		list = append(list, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cycles rows: %w", err)
	}
	return list, nil
}

func scanCycle(row pgx.Row) (domain.CycleResult, error) {
	var res domain.CycleResult
	var mode string
	var rels, intra, cross, txs, metrics []byte
	err := row.Scan(&res.ID, &mode, &res.StartedAt, &rels, &intra, &cross, &txs, &metrics)
	if err != nil {
		return domain.CycleResult{}, err
	}
	res.Mode = domain.TradeMode(mode)

	for _, blob := range []struct {
		data []byte
		dst  any
		name string
	}{
		{rels, &res.Relationships, "relationships"},
		{intra, &res.IntraOpportunities, "intra opportunities"},
		{cross, &res.CrossOpportunities, "cross opportunities"},
		{txs, &res.Transactions, "transactions"},
		{metrics, &res.Metrics, "metrics"},
	} {
		if len(blob.data) == 0 {
			continue
		}
		if err := json.Unmarshal(blob.data, blob.dst); err != nil {
			return domain.CycleResult{}, fmt.Errorf("unmarshal cycle %s: %w", blob.name, err)
		}
	}
	return res, nil
}

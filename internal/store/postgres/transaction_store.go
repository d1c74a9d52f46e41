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

const transactionCols = `id, cycle_id, kind, opportunity_id, mode, status, legs, cost_usd, expected_profit_usd, submitted_at, completed_at, error`

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// Legs are stored as a JSONB array on the transaction row; they are only
// ever read back as a unit.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Create inserts an executed or simulated transaction.
func (s *TransactionStore) Create(ctx context.Context, tx domain.Transaction) error {
	legsJSON, err := json.Marshal(tx.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal transaction legs: %w", err)
	}

	const query = `
		INSERT INTO transactions (` + transactionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.pool.Exec(ctx, query,
		tx.ID, tx.CycleID, string(tx.Kind), tx.OpportunityID, string(tx.Mode),
		string(tx.Status), legsJSON, tx.CostUSD, tx.ExpectedProfitUSD,
		tx.SubmittedAt, tx.CompletedAt, tx.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: create transaction %s: %w", tx.ID, err)
	}
	return nil
}

// UpdateStatus sets the aggregate status and completion time of a
// transaction.
func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, status domain.TxStatus, completedAt time.Time) error {
	const query = `UPDATE transactions SET status = $2, completed_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("postgres: update transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a transaction by id.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListByCycle returns every transaction produced by one cycle.
func (s *TransactionStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.Transaction, error) {
	const query = `SELECT ` + transactionCols + ` FROM transactions
		WHERE cycle_id = $1 ORDER BY submitted_at`
	return s.queryTransactions(ctx, query, cycleID)
}

// List returns transactions with pagination and optional time filtering on
// the submission timestamp.
func (s *TransactionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionCols + ` FROM transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND submitted_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND submitted_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY submitted_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryTransactions(ctx, query, args...)
}

// ListBefore returns up to limit transactions submitted before the cutoff,
// oldest first. Used by the archiver to drain history in stable batches.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	const query = `SELECT ` + transactionCols + ` FROM transactions
		WHERE submitted_at < $1 ORDER BY submitted_at LIMIT $2`
	return s.queryTransactions(ctx, query, before, limit)
}

// DeleteBefore removes transactions submitted before the cutoff and returns
// how many rows were deleted.
func (s *TransactionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transactions WHERE submitted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// SumCost returns the total cost of capital-committing transactions
// submitted since the given time. Failed transactions committed nothing and
// are excluded.
func (s *TransactionStore) SumCost(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM transactions
		 WHERE submitted_at >= $1 AND status <> $2`,
		since, string(domain.TxFailed),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum transaction cost: %w", err)
	}
	return sum, nil
}

func (s *TransactionStore) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var list []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		list = append(list, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return list, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var tx domain.Transaction
	var kind, mode, status string
	var legsJSON []byte
	err := row.Scan(
		&tx.ID, &tx.CycleID, &kind, &tx.OpportunityID, &mode, &status,
		&legsJSON, &tx.CostUSD, &tx.ExpectedProfitUSD,
		&tx.SubmittedAt, &tx.CompletedAt, &tx.Error,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Kind = domain.OpportunityKind(kind)
	tx.Mode = domain.TradeMode(mode)
	tx.Status = domain.TxStatus(status)
	if len(legsJSON) > 0 {
		if err := json.Unmarshal(legsJSON, &tx.Legs); err != nil {
			return domain.Transaction{}, fmt.Errorf("unmarshal legs: %w", err)
		}
	}
	return tx, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbontempi/arbot/internal/domain"
)

const relationshipCols = `id, relation_type, parent_market_id, child_market_id, confidence, reasoning, source, detected_at`

// upsertRelationship keeps one row per (parent, child, type) pair. Re-detection
// refreshes confidence, reasoning, source, and the detection timestamp but
// keeps the original row ID so external references stay valid.
const upsertRelationship = `
	INSERT INTO relationships (` + relationshipCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (parent_market_id, child_market_id, relation_type) DO UPDATE SET
		confidence  = EXCLUDED.confidence,
		reasoning   = EXCLUDED.reasoning,
		source      = EXCLUDED.source,
		detected_at = EXCLUDED.detected_at,
		updated_at  = NOW()`

// RelationshipStore implements domain.RelationshipStore using PostgreSQL.
type RelationshipStore struct {
	pool *pgxpool.Pool
}

// NewRelationshipStore creates a new RelationshipStore.
func NewRelationshipStore(pool *pgxpool.Pool) *RelationshipStore {
	return &RelationshipStore{pool: pool}
}

// Upsert inserts or refreshes a detected relationship.
func (s *RelationshipStore) Upsert(ctx context.Context, rel domain.Relationship) error {
	_, err := s.pool.Exec(ctx, upsertRelationship,
		rel.ID, string(rel.Type), rel.ParentMarketID, rel.ChildMarketID,
		string(rel.Confidence), rel.Reasoning, string(rel.Source), rel.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert relationship %s: %w", rel.Key(), err)
	}
	return nil
}

// UpsertBatch upserts every relationship in one transaction so a cycle's
// detections land atomically.
func (s *RelationshipStore) UpsertBatch(ctx context.Context, rels []domain.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin relationship batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rel := range rels {
		if _, err := tx.Exec(ctx, upsertRelationship,
			rel.ID, string(rel.Type), rel.ParentMarketID, rel.ChildMarketID,
			string(rel.Confidence), rel.Reasoning, string(rel.Source), rel.DetectedAt,
		); err != nil {
			return fmt.Errorf("postgres: upsert relationship %s: %w", rel.Key(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit relationship batch: %w", err)
	}
	return nil
}

// GetByID returns a relationship by id.
func (s *RelationshipStore) GetByID(ctx context.Context, id string) (domain.Relationship, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+relationshipCols+` FROM relationships WHERE id = $1`, id)
	rel, err := scanRelationship(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Relationship{}, domain.ErrNotFound
		}
		return domain.Relationship{}, fmt.Errorf("postgres: get relationship %s: %w", id, err)
	}
	return rel, nil
}

// ListByMarket returns every relationship the market participates in, on
// either side.
func (s *RelationshipStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Relationship, error) {
	const query = `SELECT ` + relationshipCols + ` FROM relationships
		WHERE parent_market_id = $1 OR child_market_id = $1
		ORDER BY detected_at DESC`
	return s.queryRelationships(ctx, query, marketID)
}

// List returns relationships with pagination and optional time filtering on
// the detection timestamp.
func (s *RelationshipStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Relationship, error) {
	query := `SELECT ` + relationshipCols + ` FROM relationships WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND detected_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY detected_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryRelationships(ctx, query, args...)
}

// Count returns the number of stored relationships.
func (s *RelationshipStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count relationships: %w", err)
	}
	return count, nil
}

func (s *RelationshipStore) queryRelationships(ctx context.Context, query string, args ...any) ([]domain.Relationship, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relationships: %w", err)
	}
	defer rows.Close()

	var list []domain.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan relationship: %w", err)
		}
		list = append(list, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list relationships rows: %w", err)
	}
	return list, nil
}

func scanRelationship(row pgx.Row) (domain.Relationship, error) {
	var rel domain.Relationship
	var relType, confidence, source string
	err := row.Scan(
		&rel.ID, &relType, &rel.ParentMarketID, &rel.ChildMarketID,
		&confidence, &rel.Reasoning, &source, &rel.DetectedAt,
	)
	if err != nil {
		return domain.Relationship{}, err
	}
	rel.Type = domain.RelationType(relType)
	rel.Confidence = domain.Confidence(confidence)
	rel.Source = domain.RelationSource(source)
	return rel, nil
}

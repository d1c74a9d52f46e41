package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RelationshipStore persists detected market relationships.
type RelationshipStore interface {
	Upsert(ctx context.Context, rel Relationship) error
	UpsertBatch(ctx context.Context, rels []Relationship) error
	GetByID(ctx context.Context, id string) (Relationship, error)
	ListByMarket(ctx context.Context, marketID string) ([]Relationship, error)
	List(ctx context.Context, opts ListOpts) ([]Relationship, error)
	Count(ctx context.Context) (int64, error)
}

// TransactionStore persists executed and simulated transactions.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) error
	UpdateStatus(ctx context.Context, id string, status TxStatus, completedAt time.Time) error
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListByCycle(ctx context.Context, cycleID string) ([]Transaction, error)
	List(ctx context.Context, opts ListOpts) ([]Transaction, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Transaction, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	SumCost(ctx context.Context, since time.Time) (float64, error)
}

// CycleStore persists pipeline cycle results.
type CycleStore interface {
	Create(ctx context.Context, res CycleResult) error
	GetByID(ctx context.Context, id string) (CycleResult, error)
	ListRecent(ctx context.Context, limit int) ([]CycleResult, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]CycleResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

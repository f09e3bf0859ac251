// Package ledger keeps an audit trail of acknowledged webhook deliveries.
//
// A receipt is written only after the runtime acknowledged the delivery's checkpoint, so
// every row corresponds to a committed document. The ledger is not read back by the
// connector.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Receipt records one acknowledged delivery
type Receipt struct {
	Binding        int
	Collection     string
	DocumentID     string
	Published      int
	RequestID      string
	ReceivedAt     time.Time
	AcknowledgedAt time.Time
}

// Store defines the interface for receipt storage
type Store interface {
	// Record appends a receipt
	Record(ctx context.Context, r Receipt) error

	// Count returns the number of receipts stored
	Count(ctx context.Context) (int64, error)

	// Close releases the store's resources
	Close()
}

// Ensure both stores implement Store
var _ Store = (*PostgresStore)(nil)
var _ Store = (*InMemoryStore)(nil)

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS webhook_receipts (
	id              BIGSERIAL PRIMARY KEY,
	binding         INTEGER     NOT NULL,
	collection      TEXT        NOT NULL,
	document_id     TEXT        NOT NULL,
	published       INTEGER     NOT NULL,
	request_id      TEXT,
	received_at     TIMESTAMPTZ NOT NULL,
	acknowledged_at TIMESTAMPTZ NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS webhook_receipts_document_idx
	ON webhook_receipts (collection, document_id)`,
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to connString, verifies the connection and ensures the schema exists
func Open(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the receipts table if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaSQL {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create receipts table: %w", err)
		}
	}
	return nil
}

// Record inserts a receipt
func (s *PostgresStore) Record(ctx context.Context, r Receipt) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_receipts
			(binding, collection, document_id, published, request_id, received_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, r.Binding, r.Collection, r.DocumentID, r.Published, r.RequestID, r.ReceivedAt, r.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("failed to record receipt: %w", err)
	}
	return nil
}

// Count returns the number of stored receipts
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_receipts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return n, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.db.Close()
}

// InMemoryStore implements Store in memory (for testing)
type InMemoryStore struct {
	mu       sync.Mutex
	receipts []Receipt
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Record appends a receipt
func (s *InMemoryStore) Record(_ context.Context, r Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// Count returns the number of stored receipts
func (s *InMemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.receipts)), nil
}

// Receipts returns a copy of the stored receipts in insertion order
func (s *InMemoryStore) Receipts() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Receipt(nil), s.receipts...)
}

// Close is a no-op
func (s *InMemoryStore) Close() {}

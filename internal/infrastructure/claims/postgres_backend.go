package claims

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresBackend persists claim records in a single table. The primary key
// makes a concurrent double-persist a no-op rather than an error.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBackend creates a Postgres-backed claim persistence layer and
// ensures its table exists.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	b := &PostgresBackend{pool: pool, logger: logger}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS mention_claims (
			event_id         TEXT PRIMARY KEY,
			first_claimed_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating mention_claims table: %w", err)
	}
	return nil
}

// Persist durably records a claim. ON CONFLICT DO NOTHING preserves the
// original claim time if the record already exists.
func (b *PostgresBackend) Persist(ctx context.Context, rec Record) error {
	const q = `
		INSERT INTO mention_claims (event_id, first_claimed_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`
	if _, err := b.pool.Exec(ctx, q, rec.EventID, rec.FirstClaimedAt); err != nil {
		return fmt.Errorf("inserting claim record: %w", err)
	}
	return nil
}

// Remove deletes evicted claim records.
func (b *PostgresBackend) Remove(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	const q = `DELETE FROM mention_claims WHERE event_id = ANY($1)`
	if _, err := b.pool.Exec(ctx, q, eventIDs); err != nil {
		return fmt.Errorf("deleting claim records: %w", err)
	}
	return nil
}

// LoadAll returns every retained claim record, oldest first.
func (b *PostgresBackend) LoadAll(ctx context.Context) ([]Record, error) {
	const q = `SELECT event_id, first_claimed_at FROM mention_claims ORDER BY first_claimed_at`
	rows, err := b.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying claim records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.EventID, &rec.FirstClaimedAt); err != nil {
			return nil, fmt.Errorf("scanning claim record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claim records: %w", err)
	}

	return records, nil
}

// Close releases the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

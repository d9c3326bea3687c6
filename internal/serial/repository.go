package serial

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
)

// PostgresSequencer keeps one counter row per scope in document_sequences.
type PostgresSequencer struct {
	db db.DBTX
}

// NewPostgresSequencer constructs the sequencer.
func NewPostgresSequencer(pool *pgxpool.Pool) *PostgresSequencer {
	return &PostgresSequencer{db: pool}
}

// ReserveNext increments and returns the scope counter in a single statement.
func (s *PostgresSequencer) ReserveNext(ctx context.Context, scope string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO document_sequences (scope, seq)
		VALUES ($1, 1)
		ON CONFLICT (scope)
		DO UPDATE SET seq = document_sequences.seq + 1, updated_at = NOW()
		RETURNING seq
	`, scope).Scan(&seq)
	return seq, err
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripph/promptfeed/internal/domain"
)

const (
	loadSnapshotSQL = `SELECT document FROM feed_snapshots WHERE id = 1`
	saveSnapshotSQL = `
INSERT INTO feed_snapshots (id, document, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
)

// SnapshotStore keeps the whole feed document in the single feed_snapshots
// row. The upsert is one statement, so the row is replaced atomically.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, loadSnapshotSQL).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load feed snapshot: %w", err)
	}
	return doc, nil
}

func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if _, err := s.pool.Exec(ctx, saveSnapshotSQL, data); err != nil {
		return fmt.Errorf("save feed snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

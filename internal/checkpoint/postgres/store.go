// Package postgres implements the checkpoint [checkpoint.Store] on
// PostgreSQL, one row per conversation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/checkpoint"
)

// Compile-time interface check.
var _ checkpoint.Store = (*Store)(nil)

const ddlCheckpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
    conversation_id TEXT         PRIMARY KEY,
    node_id         TEXT         NOT NULL DEFAULT '',
    field_index     INT          NOT NULL DEFAULT 0,
    fields          JSONB        NOT NULL DEFAULT '[]',
    captured        JSONB        NOT NULL DEFAULT '{}',
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at
    ON checkpoints (updated_at);
`

// Store persists checkpoints in PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, verifies connectivity, and ensures the checkpoints table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlCheckpoints); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Save implements [checkpoint.Store.Save]. Later saves for the same
// conversation replace earlier ones.
func (s *Store) Save(ctx context.Context, snap checkpoint.Snapshot) error {
	if snap.ConversationID == "" {
		return errors.New("checkpoint store: snapshot missing conversation id")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("checkpoint store: marshal fields: %w", err)
	}
	capturedJSON, err := json.Marshal(snap.Captured)
	if err != nil {
		return fmt.Errorf("checkpoint store: marshal captured: %w", err)
	}

	const q = `
		INSERT INTO checkpoints
		    (conversation_id, node_id, field_index, fields, captured, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET
		    node_id     = EXCLUDED.node_id,
		    field_index = EXCLUDED.field_index,
		    fields      = EXCLUDED.fields,
		    captured    = EXCLUDED.captured,
		    updated_at  = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, q,
		snap.ConversationID,
		snap.NodeID,
		snap.FieldIndex,
		fieldsJSON,
		capturedJSON,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("checkpoint store: save: %w", err)
	}
	return nil
}

// Load implements [checkpoint.Store.Load].
func (s *Store) Load(ctx context.Context, conversationID string) (checkpoint.Snapshot, error) {
	const q = `
		SELECT node_id, field_index, fields, captured, updated_at
		FROM   checkpoints
		WHERE  conversation_id = $1`

	snap := checkpoint.Snapshot{ConversationID: conversationID}
	var fieldsJSON, capturedJSON []byte
	err := s.pool.QueryRow(ctx, q, conversationID).Scan(
		&snap.NodeID,
		&snap.FieldIndex,
		&fieldsJSON,
		&capturedJSON,
		&snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.Snapshot{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("checkpoint store: load: %w", err)
	}

	if err := json.Unmarshal(fieldsJSON, &snap.Fields); err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("checkpoint store: unmarshal fields: %w", err)
	}
	snap.Captured = make(map[capture.FieldType]string)
	if err := json.Unmarshal(capturedJSON, &snap.Captured); err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("checkpoint store: unmarshal captured: %w", err)
	}
	return snap, nil
}

// Delete implements [checkpoint.Store.Delete].
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	const q = `DELETE FROM checkpoints WHERE conversation_id = $1`
	if _, err := s.pool.Exec(ctx, q, conversationID); err != nil {
		return fmt.Errorf("checkpoint store: delete: %w", err)
	}
	return nil
}

// Ping implements [checkpoint.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("checkpoint store: ping: %w", err)
	}
	return nil
}

// Close implements [checkpoint.Store.Close]. It releases all connections held
// by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InitSchema creates the database schema if it doesn't exist: the pgvector
// extension, the alerts table with its listing index, and the roster tables
// read by the roster package.
func InitSchema(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			identity TEXT,
			confidence DOUBLE PRECISION,
			distance DOUBLE PRECISION,
			angle DOUBLE PRECISION,
			snapshot_path TEXT,
			acknowledged BOOLEAN NOT NULL DEFAULT false,
			meta JSONB
		);

		CREATE TABLE IF NOT EXISTS roster_identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS roster_embeddings (
			id SERIAL PRIMARY KEY,
			identity_id INTEGER REFERENCES roster_identities(id) ON DELETE CASCADE,
			embedding vector(128) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_alerts_listing ON alerts (created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts (status);
		CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged ON alerts (acknowledged);
		CREATE INDEX IF NOT EXISTS idx_roster_embeddings_identity ON roster_embeddings (identity_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}

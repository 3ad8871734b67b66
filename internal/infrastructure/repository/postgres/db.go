package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockID int64 = 2026031501

const schemaDDL = `
CREATE TABLE IF NOT EXISTS found_items (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	searchable_tokens JSONB NOT NULL DEFAULT '[]'::jsonb,
	search_text TEXT NOT NULL DEFAULT '',
	search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', description || ' ' || search_text)) STORED,
	extracted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_found_items_search_vector ON found_items USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_found_items_category ON found_items (lower(category));
CREATE INDEX IF NOT EXISTS idx_found_items_unprocessed ON found_items (id) WHERE extracted_at IS NULL;

CREATE TABLE IF NOT EXISTS impressions (
	impression_id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL,
	raw_text TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	shown_results JSONB NOT NULL,
	query_snapshot JSONB,
	ts TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_impressions_ts ON impressions (ts);
CREATE INDEX IF NOT EXISTS idx_impressions_query_id ON impressions (query_id);

CREATE TABLE IF NOT EXISTS selections (
	selection_id TEXT PRIMARY KEY,
	impression_id TEXT NOT NULL,
	query_id TEXT NOT NULL,
	raw_text TEXT NOT NULL,
	selected_found_id TEXT NOT NULL,
	selected_rank INTEGER NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_selections_ts ON selections (ts);
CREATE INDEX IF NOT EXISTS idx_selections_impression_id ON selections (impression_id);

CREATE TABLE IF NOT EXISTS verifications (
	query_id TEXT NOT NULL,
	found_id TEXT NOT NULL,
	verified BOOLEAN NOT NULL,
	verified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (query_id, found_id)
);
`

// EnsureSchema creates every table the matcher uses.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

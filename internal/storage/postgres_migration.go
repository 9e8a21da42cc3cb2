package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrate applies the idempotent schema the store relies on. Statements use
// IF NOT EXISTS so repeated startups are safe.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS objects (
			id           text PRIMARY KEY,
			object_type  text NOT NULL,
			title        text NOT NULL DEFAULT '',
			filename     text NOT NULL DEFAULT '',
			upload_state text NOT NULL DEFAULT 'pending',
			live_state   text NOT NULL DEFAULT '',
			manifest_url text NOT NULL DEFAULT '',
			metadata     jsonb,
			created_at   timestamptz NOT NULL DEFAULT now(),
			updated_at   timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS objects_object_type_idx ON objects (object_type, created_at)`,
	}
	for _, statement := range statements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

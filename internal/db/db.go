package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect opens the Postgres pool and applies the schema.
func Connect(dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations applied")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            participant_id TEXT NOT NULL,
            admin_id TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL CHECK (status IN ('pending', 'open', 'trashed')),
            viewed BOOLEAN NOT NULL DEFAULT FALSE,
            viewed_at TIMESTAMPTZ,
            last_customer_message_at TIMESTAMPTZ,
            trashed_at TIMESTAMPTZ,
            messages JSONB NOT NULL DEFAULT '[]'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS conversations_one_active
            ON conversations (participant_id)
            WHERE status IN ('pending', 'open');`,
	`CREATE INDEX IF NOT EXISTS conversations_status_updated
            ON conversations (status, updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS support_users (
            id TEXT PRIMARY KEY,
            role TEXT NOT NULL DEFAULT 'customer' CHECK (role IN ('customer', 'admin', 'staff')),
            banned BOOLEAN NOT NULL DEFAULT FALSE
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

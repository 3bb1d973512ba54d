package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/placedotfun/server/internal/config"
)

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the chunks table and supporting indexes when absent.
// The UNIQUE(x, z) constraint backs the upsert atomicity guarantee; the
// neighbor columns are self-referencing foreign keys so deleting a chunk
// clears every reciprocal reference in the same statement.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			model_url TEXT NOT NULL,
			vertices INTEGER NOT NULL DEFAULT 0,
			faces INTEGER NOT NULL DEFAULT 0,
			source_image TEXT,
			generated_by TEXT,
			neighbor_north UUID REFERENCES chunks(id) ON DELETE SET NULL,
			neighbor_south UUID REFERENCES chunks(id) ON DELETE SET NULL,
			neighbor_east UUID REFERENCES chunks(id) ON DELETE SET NULL,
			neighbor_west UUID REFERENCES chunks(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (x, z)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_created_at ON chunks (created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	return nil
}

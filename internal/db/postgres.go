package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the runtime image, which does not carry internal/db/schema.sql.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore owns the connection pool shared by detection, enrichment
// and the merge executor. Merge and revert transactions acquire a dedicated
// connection from this pool for their duration.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("[DB] Connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements. It creates
// only the dedup_-prefixed pipeline tables and the pg_trgm/unaccent
// extensions; the host CRM schema is never touched.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("[DB] Dedup pipeline schema initialized")
	return nil
}

// GetPool exposes the connection pool for the merge executor and other
// subsystems that manage their own transactions.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

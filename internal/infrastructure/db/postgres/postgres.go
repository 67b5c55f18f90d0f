// Package postgres implements the portal repositories and the approval and
// permission procedures on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/infrastructure/db/postgres/migrations"
)

const defaultTimeout = 10 * time.Second

// uniqueViolation is the SQLSTATE raised on a duplicate key.
const uniqueViolation = "23505"

// Config captures the settings required to open the pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// Connect opens the pool and verifies connectivity with a ping.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema, including the has_permission and
// approve_user functions and the default role grants.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Store bundles the repositories backed by one database.
type Store struct {
	Profiles    *ProfileRepository
	Credentials *CredentialRepository
	RPC         *RPC
}

// NewStore wires every repository on db.
func NewStore(db *sqlx.DB, log zerolog.Logger) *Store {
	return &Store{
		Profiles:    NewProfileRepository(db),
		Credentials: NewCredentialRepository(db),
		RPC:         NewRPC(db, log),
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

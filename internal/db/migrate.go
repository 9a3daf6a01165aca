package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrator applies the embedded goose migrations through a database/sql
// handle borrowed from the pool.
type Migrator struct {
	db  *sql.DB
	log *zap.Logger
}

func NewMigrator(pool *pgxpool.Pool, log *zap.Logger) (*Migrator, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}

	return &Migrator{
		db:  stdlib.OpenDBFromPool(pool),
		log: log,
	}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	m.log.Info("applying database migrations")

	if err := goose.UpContext(ctx, m.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}
	m.log.Info("migrations applied", zap.Int64("version", version))
	return nil
}

// Close releases the sql.DB wrapper only; the pool stays with the caller.
func (m *Migrator) Close() error {
	return m.db.Close()
}

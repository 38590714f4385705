// Package postgres implements the pipeline stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"io/fs"
	"sort"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/db"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}

	return pool, nil
}

// RunMigrations applies the embedded migration files in lexical order. Every
// statement uses IF NOT EXISTS, so reapplying on startup is safe.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := fs.Glob(db.Migrations, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(entries)

	for _, name := range entries {
		ddl, err := db.Migrations.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		if _, err := pool.Exec(ctx, string(ddl)); err != nil {
			return errors.Wrapf(err, "apply %s", name)
		}
	}
	return nil
}

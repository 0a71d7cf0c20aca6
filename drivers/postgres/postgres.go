// Package postgres provides a queryopt provider backed by PostgreSQL, storing each payload
// as JSONB.
package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/burugo/queryopt/internal/sqldoc"
	"github.com/burugo/queryopt/internal/sqlbuilder"
)

// Options tunes the provider. The zero value uses the defaults.
type Options struct {
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Provider stores documents in a PostgreSQL table.
type Provider struct {
	*sqldoc.Store
}

// NewProvider connects to dsn and creates the documents table when missing.
func NewProvider(ctx context.Context, dsn string, opts *Options) (*Provider, error) {
	if opts == nil {
		opts = &Options{}
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(valueOr(opts.MaxOpenConns, 25))
	db.SetMaxIdleConns(valueOr(opts.MaxIdleConns, 10))
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	store, err := sqldoc.New(db, sqlbuilder.PostgresDialect{}, opts.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("PostgreSQL provider initialized successfully.")
	return &Provider{Store: store}, nil
}

func valueOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

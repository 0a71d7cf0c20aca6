// Package sqlite provides a queryopt provider backed by an SQLite database file.
package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/burugo/queryopt/internal/sqldoc"
	"github.com/burugo/queryopt/internal/sqlbuilder"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// Provider stores documents in an SQLite table.
type Provider struct {
	*sqldoc.Store
	dsn string
}

// NewProvider opens dsn, verifies the connection and creates the documents table.
// An in-memory DSN (":memory:") is limited to one connection, since each connection would
// otherwise see its own empty database.
func NewProvider(dsn string) (*Provider, error) {
	log.Printf("Initializing SQLite provider with DSN: %s", dsn)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(defaultMaxOpenConns)
		db.SetMaxIdleConns(defaultMaxIdleConns)
	}
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	store, err := sqldoc.New(db, sqlbuilder.SQLiteDialect{}, sqldoc.DefaultTable)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("SQLite provider initialized successfully.")
	return &Provider{Store: store, dsn: dsn}, nil
}

// DSN returns the data source the provider was opened with.
func (p *Provider) DSN() string { return p.dsn }

// Package sqldoc stores documents in a SQL table of (collection, id, data) rows, with the
// payload kept as JSON. It backs the sqlite and postgres providers.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/sqlbuilder"
)

// DefaultTable is the table used when none is given.
const DefaultTable = "documents"

// Store is a queryopt.Provider, Counter and Writer over a *sqlx.DB.
type Store struct {
	db      *sqlx.DB
	dialect sqlbuilder.Dialect
	table   string
	closeMx sync.Mutex
	closed  bool
}

var (
	_ queryopt.Provider = (*Store)(nil)
	_ queryopt.Counter  = (*Store)(nil)
	_ queryopt.Writer   = (*Store)(nil)
)

type row struct {
	ID   string `db:"id"`
	Data string `db:"data"`
}

// New wraps db. The table name must be a plain identifier.
func New(db *sqlx.DB, dialect sqlbuilder.Dialect, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !sqlbuilder.ValidTable(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", queryopt.ErrInvalidConfig, table)
	}
	return &Store{db: db, dialect: dialect, table: table}, nil
}

// Name returns the dialect name.
func (s *Store) Name() string { return s.dialect.Name() }

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// EnsureSchema creates the documents table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.CreateTableSQL(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: create table %s: %w", s.Name(), s.table, err)
		}
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	return s.closed
}

// Find runs q. With a cursor it first reads the cursor document's ordering values, then
// selects the rows that sort strictly after them.
func (s *Store) Find(ctx context.Context, q *queryopt.ProviderQuery) ([]queryopt.Document, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("%s: store is closed", s.Name())
	}

	var cursor []any
	if q.After != "" {
		values, err := s.cursorValues(ctx, q)
		if err != nil {
			return nil, err
		}
		cursor = values
	}

	query, args, err := sqlbuilder.BuildSelectSQL(s.dialect, s.table, q, cursor)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	log.Printf("DB Find (%s): %s [%v]", s.Name(), query, args)
	start := time.Now()
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		log.Printf("DB Find Error (%s): %s [%v] (%s) - %v", s.Name(), query, args, time.Since(start), err)
		return nil, fmt.Errorf("%s find error: %w", s.Name(), err)
	}

	docs := make([]queryopt.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := decodeRow(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) cursorValues(ctx context.Context, q *queryopt.ProviderQuery) ([]any, error) {
	query, args := sqlbuilder.BuildCursorSQL(s.dialect, s.table, q)
	query = s.db.Rebind(query)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s cursor lookup error: %w", s.Name(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%s cursor lookup error: %w", s.Name(), err)
		}
		return nil, fmt.Errorf("%w: %s/%s", queryopt.ErrCursorNotFound, q.Collection, q.After)
	}
	raw, err := rows.SliceScan()
	if err != nil {
		return nil, fmt.Errorf("%s cursor scan error: %w", s.Name(), err)
	}

	ordering := q.Ordering()
	values := make([]any, len(raw))
	for i, v := range raw {
		decoded, err := s.dialect.DecodeValue(ordering[i].Field, v)
		if err != nil {
			return nil, err
		}
		values[i] = decoded
	}
	return values, nil
}

// Count counts the rows matching q's filters.
func (s *Store) Count(ctx context.Context, q *queryopt.ProviderQuery) (int64, error) {
	query, args, err := sqlbuilder.BuildCountSQL(s.dialect, s.table, q)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	var count int64
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		log.Printf("DB Count Error (%s): %s [%v] - %v", s.Name(), query, args, err)
		return 0, fmt.Errorf("%s count error: %w", s.Name(), err)
	}
	return count, nil
}

// Put upserts docs into collection in one transaction.
func (s *Store) Put(ctx context.Context, collection string, docs ...queryopt.Document) error {
	if len(docs) == 0 {
		return nil
	}
	query := s.db.Rebind(s.dialect.UpsertSQL(s.table))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s begin error: %w", s.Name(), err)
	}
	for _, doc := range docs {
		if doc.ID == "" {
			_ = tx.Rollback()
			return fmt.Errorf("%w: document without id in %s", queryopt.ErrInvalidQuery, collection)
		}
		data, err := json.Marshal(doc.Data)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode document %s/%s: %w", collection, doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, collection, doc.ID, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s put %s/%s: %w", s.Name(), collection, doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s commit error: %w", s.Name(), err)
	}
	log.Printf("DB Put (%s): %d document(s) into %s", s.Name(), len(docs), collection)
	return nil
}

// Delete removes ids from collection. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := s.db.Rebind(sqlbuilder.BuildDeleteSQL(s.table, len(ids)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s delete error: %w", s.Name(), err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("error closing %s connection: %w", s.Name(), err)
	}
	log.Printf("%s store closed.", s.Name())
	return nil
}

func decodeRow(r row) (queryopt.Document, error) {
	doc := queryopt.Document{ID: r.ID}
	if err := json.Unmarshal([]byte(r.Data), &doc.Data); err != nil {
		return queryopt.Document{}, fmt.Errorf("decode document %s: %w", r.ID, err)
	}
	return doc, nil
}

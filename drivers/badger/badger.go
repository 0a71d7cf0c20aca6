// Package badger is an embedded provider on BadgerDB. Documents live under
// "doc/<collection>/<id>" keys, so a prefix scan yields a collection in id order.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/match"
)

// Provider implements queryopt.Provider, Counter and Writer on a badger database.
type Provider struct {
	db *badger.DB
}

var (
	_ queryopt.Provider = (*Provider)(nil)
	_ queryopt.Counter  = (*Provider)(nil)
	_ queryopt.Writer   = (*Provider)(nil)
)

// Open opens (or creates) a database in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Provider, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	log.Println("Badger provider initialized successfully.")
	return &Provider{db: db}, nil
}

func (*Provider) Name() string { return "badger" }

// Close flushes and closes the database.
func (p *Provider) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("error closing badger database: %w", err)
	}
	return nil
}

func collectionPrefix(collection string) []byte {
	return []byte("doc/" + collection + "/")
}

func docKey(collection, id string) []byte {
	return append(collectionPrefix(collection), id...)
}

func validName(collection string) error {
	if strings.Contains(collection, "/") {
		return fmt.Errorf("%w: collection name %q contains '/'", queryopt.ErrInvalidQuery, collection)
	}
	return nil
}

// load scans a collection in key (and therefore id) order.
func (p *Provider) load(ctx context.Context, collection string) ([]queryopt.Document, error) {
	if err := validName(collection); err != nil {
		return nil, err
	}
	prefix := collectionPrefix(collection)
	var docs []queryopt.Document
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			doc := queryopt.Document{ID: string(item.Key()[len(prefix):])}
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc.Data)
			})
			if err != nil {
				return fmt.Errorf("decode badger document %s/%s: %w", collection, doc.ID, err)
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan %s: %w", collection, err)
	}
	return docs, nil
}

func (p *Provider) Find(ctx context.Context, q *queryopt.ProviderQuery) ([]queryopt.Document, error) {
	all, err := p.load(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	return match.Apply(all, q)
}

func (p *Provider) Count(ctx context.Context, q *queryopt.ProviderQuery) (int64, error) {
	all, err := p.load(ctx, q.Collection)
	if err != nil {
		return 0, err
	}
	return match.Count(all, q)
}

// Put writes docs in a single transaction.
func (p *Provider) Put(_ context.Context, collection string, docs ...queryopt.Document) error {
	if err := validName(collection); err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		for _, doc := range docs {
			if doc.ID == "" {
				return fmt.Errorf("%w: document without id in %s", queryopt.ErrInvalidQuery, collection)
			}
			raw, err := json.Marshal(doc.Data)
			if err != nil {
				return fmt.Errorf("encode document %s/%s: %w", collection, doc.ID, err)
			}
			if err := txn.Set(docKey(collection, doc.ID), raw); err != nil {
				return fmt.Errorf("badger put %s/%s: %w", collection, doc.ID, err)
			}
		}
		return nil
	})
}

func (p *Provider) Delete(_ context.Context, collection string, ids ...string) error {
	if err := validName(collection); err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(docKey(collection, id)); err != nil {
				return fmt.Errorf("badger delete %s/%s: %w", collection, id, err)
			}
		}
		return nil
	})
}

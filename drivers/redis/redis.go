// Package redis stores documents in Redis: each document is a JSON string under
// "<prefix>doc:<collection>:<id>" and a set "<prefix>ids:<collection>" lists the ids of a
// collection. Queries load the collection and are evaluated client-side.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/match"
)

// DefaultPrefix namespaces every key written by the provider.
const DefaultPrefix = "queryopt:"

const mgetChunk = 500

// Options holds configuration for the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Provider implements queryopt.Provider, Counter and Writer on Redis.
// The counters field tracks operation statistics (thread-safe).
type Provider struct {
	redisClient       *redis.Client
	prefix            string
	mu                sync.Mutex
	counters          map[string]int
	createdInternally bool
}

var (
	_ queryopt.Provider = (*Provider)(nil)
	_ queryopt.Counter  = (*Provider)(nil)
	_ queryopt.Writer   = (*Provider)(nil)
	_ io.Closer         = (*Provider)(nil)
)

// NewProvider wraps redisCli, or connects with opts when redisCli is nil.
func NewProvider(redisCli *redis.Client, opts *Options) (*Provider, error) {
	if opts == nil {
		opts = &Options{}
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	rdb := redisCli
	createdInternally := false
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		createdInternally = true

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	log.Println("Redis provider initialized successfully.")
	return &Provider{
		redisClient:       rdb,
		prefix:            prefix,
		counters:          make(map[string]int),
		createdInternally: createdInternally,
	}, nil
}

func (*Provider) Name() string { return "redis" }

// Close only closes the connection when the provider opened it.
func (p *Provider) Close() error {
	if p.createdInternally && p.redisClient != nil {
		return p.redisClient.Close()
	}
	return nil
}

func (p *Provider) incrementCounter(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[name]++
}

// Stats returns a copy of the operation counters (e.g. "Find", "Put", "MissingDoc").
func (p *Provider) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.counters))
	for k, v := range p.counters {
		out[k] = v
	}
	return out
}

func (p *Provider) docKey(collection, id string) string {
	return p.prefix + "doc:" + collection + ":" + id
}

func (p *Provider) idsKey(collection string) string {
	return p.prefix + "ids:" + collection
}

// load reads every document of a collection in id order. Ids whose document key has gone
// missing are skipped.
func (p *Provider) load(ctx context.Context, collection string) ([]queryopt.Document, error) {
	ids, err := p.redisClient.SMembers(ctx, p.idsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMembers error for collection '%s': %w", collection, err)
	}
	sort.Strings(ids)

	docs := make([]queryopt.Document, 0, len(ids))
	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, p.docKey(collection, id))
		}
		vals, err := p.redisClient.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis MGet error for collection '%s': %w", collection, err)
		}
		for i, val := range vals {
			id := ids[start+i]
			s, ok := val.(string)
			if !ok {
				p.incrementCounter("MissingDoc")
				log.Printf("WARN: redis document %s/%s listed but missing", collection, id)
				continue
			}
			doc := queryopt.Document{ID: id}
			if err := json.Unmarshal([]byte(s), &doc.Data); err != nil {
				return nil, fmt.Errorf("decode redis document %s/%s: %w", collection, id, err)
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (p *Provider) Find(ctx context.Context, q *queryopt.ProviderQuery) ([]queryopt.Document, error) {
	p.incrementCounter("Find")
	all, err := p.load(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	return match.Apply(all, q)
}

func (p *Provider) Count(ctx context.Context, q *queryopt.ProviderQuery) (int64, error) {
	p.incrementCounter("Count")
	all, err := p.load(ctx, q.Collection)
	if err != nil {
		return 0, err
	}
	return match.Count(all, q)
}

// Put writes docs and their ids in one MULTI/EXEC transaction.
func (p *Provider) Put(ctx context.Context, collection string, docs ...queryopt.Document) error {
	if len(docs) == 0 {
		return nil
	}
	p.incrementCounter("Put")
	payloads := make([][]byte, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document without id in %s", queryopt.ErrInvalidQuery, collection)
		}
		raw, err := json.Marshal(doc.Data)
		if err != nil {
			return fmt.Errorf("encode document %s/%s: %w", collection, doc.ID, err)
		}
		payloads[i] = raw
	}

	_, err := p.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, doc := range docs {
			pipe.Set(ctx, p.docKey(collection, doc.ID), payloads[i], 0)
			pipe.SAdd(ctx, p.idsKey(collection), doc.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis Put error for collection '%s': %w", collection, err)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	p.incrementCounter("Delete")
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = p.docKey(collection, id)
		members[i] = id
	}
	_, err := p.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, p.idsKey(collection), members...)
		return nil
	})
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis Delete error for collection '%s': %w", collection, err)
	}
	return nil
}

// DropCollection deletes every document of collection.
func (p *Provider) DropCollection(ctx context.Context, collection string) error {
	ids, err := p.redisClient.SMembers(ctx, p.idsKey(collection)).Result()
	if err != nil {
		return fmt.Errorf("redis SMembers error for collection '%s': %w", collection, err)
	}
	if err := p.Delete(ctx, collection, ids...); err != nil {
		return err
	}
	return p.redisClient.Del(ctx, p.idsKey(collection)).Err()
}

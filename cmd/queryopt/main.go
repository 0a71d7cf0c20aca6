// Command queryopt loads documents into a backend and runs queries through the optimizer,
// printing the records together with the optimizer's metrics and cache statistics.
//
// Usage:
//
//	queryopt seed --driver sqlite --dsn docs.db --collection trades trades.json
//	queryopt query --driver sqlite --dsn docs.db --collection trades \
//	    --where "status == open" --order price:desc --limit 10 --repeat 20 --concurrency 4
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/burugo/queryopt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var s settings

	root := &cobra.Command{
		Use:          "queryopt",
		Short:        "Run cached, deduplicated queries against a document store",
		SilenceUsage: true,
	}
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		setupLogging(s.LogFile, cmd.ErrOrStderr())
	}

	flags := root.PersistentFlags()
	flags.StringVar(&s.Driver, "driver", "memory", "backend: memory, sqlite, postgres, redis or badger")
	flags.StringVar(&s.DSN, "dsn", "", "data source (sqlite file, postgres URL, redis address, badger directory)")
	flags.StringVar(&s.ConfigPath, "config", "", "optimizer config file (.yaml, .yml or .toml)")
	flags.StringVar(&s.LogFile, "log-file", "", "also write logs to this file, rotated at 10 MB")

	root.AddCommand(newSeedCmd(&s), newQueryCmd(&s))
	return root
}

// setupLogging sends the standard logger to stderr and, when path is set, to a rotated file.
func setupLogging(path string, stderr io.Writer) {
	if path == "" {
		log.SetOutput(stderr)
		return
	}
	log.SetOutput(io.MultiWriter(stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}))
}

func newSeedCmd(s *settings) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "seed [file.json]",
		Short: "Load a JSON array of documents (each with a string id) into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			docs, err := parseDocuments(data)
			if err != nil {
				return err
			}

			app, cleanup, err := initializeApplication(cmd.Context(), *s)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := seed(cmd.Context(), app.Provider, collection, docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d document(s) into %s\n", n, collection)
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "target collection")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func seed(ctx context.Context, p queryopt.Provider, collection string, docs []queryopt.Document) (int, error) {
	w, ok := p.(queryopt.Writer)
	if !ok {
		return 0, fmt.Errorf("provider %s does not accept writes", p.Name())
	}
	if err := w.Put(ctx, collection, docs...); err != nil {
		return 0, err
	}
	return len(docs), nil
}

type queryFlags struct {
	collection  string
	where       []string
	order       []string
	limit       int
	after       string
	count       bool
	load        string
	repeat      int
	concurrency int
}

func newQueryCmd(s *settings) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query through the optimizer and print records, metrics and cache stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}

			app, cleanup, err := initializeApplication(cmd.Context(), *s)
			if err != nil {
				return err
			}
			defer cleanup()

			if f.load != "" {
				data, err := os.ReadFile(f.load)
				if err != nil {
					return err
				}
				docs, err := parseDocuments(data)
				if err != nil {
					return err
				}
				if _, err := seed(cmd.Context(), app.Provider, f.collection, docs); err != nil {
					return err
				}
			}

			res, elapsed, err := runQuery(cmd.Context(), app.Optimizer, f.collection, opts, f.repeat, f.concurrency)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), res, elapsed, app.Optimizer)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.collection, "collection", "", "collection to query")
	flags.StringArrayVar(&f.where, "where", nil, `filter "field op value", repeatable (ops: == != < <= > >= in not-in array-contains)`)
	flags.StringArrayVar(&f.order, "order", nil, "ordering field[:asc|desc], repeatable")
	flags.IntVar(&f.limit, "limit", 0, "page size")
	flags.StringVar(&f.after, "after", "", "resume after the document with this id")
	flags.BoolVar(&f.count, "count", false, "include the total match count")
	flags.StringVar(&f.load, "load", "", "seed the collection from this JSON file before querying")
	flags.IntVar(&f.repeat, "repeat", 1, "run the query this many times")
	flags.IntVar(&f.concurrency, "concurrency", 1, "parallel callers when repeating")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func (f queryFlags) options() (queryopt.QueryOptions, error) {
	opts := queryopt.QueryOptions{
		PageSize:          f.limit,
		Cursor:            f.after,
		IncludeTotalCount: f.count,
	}
	for _, expr := range f.where {
		filter, err := parseWhere(expr)
		if err != nil {
			return opts, err
		}
		opts.Filters = append(opts.Filters, filter)
	}
	for _, expr := range f.order {
		o, err := parseOrder(expr)
		if err != nil {
			return opts, err
		}
		opts.Orders = append(opts.Orders, o)
	}
	return opts, nil
}

// runQuery issues the same query repeat times from up to concurrency goroutines and returns
// the first result.
func runQuery(ctx context.Context, opt *queryopt.Optimizer, collection string, opts queryopt.QueryOptions, repeat, concurrency int) (*queryopt.QueryResult, time.Duration, error) {
	if repeat < 1 {
		repeat = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]*queryopt.QueryResult, repeat)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < repeat; i++ {
		i := i
		g.Go(func() error {
			res, err := opt.ExecuteQuery(gctx, collection, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return results[0], time.Since(start), nil
}

type report struct {
	Records    []queryopt.Record   `json:"records"`
	HasMore    bool                `json:"has_more"`
	LastRecord string              `json:"last_record,omitempty"`
	TotalCount *int64              `json:"total_count,omitempty"`
	Elapsed    string              `json:"elapsed"`
	Metrics    queryopt.Metrics    `json:"metrics"`
	Cache      queryopt.CacheStats `json:"cache"`
}

func printReport(w io.Writer, res *queryopt.QueryResult, elapsed time.Duration, opt *queryopt.Optimizer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Records:    res.Data,
		HasMore:    res.HasMore,
		LastRecord: res.LastRecord,
		TotalCount: res.TotalCount,
		Elapsed:    elapsed.String(),
		Metrics:    opt.GetMetrics(),
		Cache:      opt.GetCacheStats(),
	})
}

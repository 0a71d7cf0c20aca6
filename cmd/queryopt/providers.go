package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/drivers/badger"
	"github.com/burugo/queryopt/drivers/memory"
	"github.com/burugo/queryopt/drivers/postgres"
	"github.com/burugo/queryopt/drivers/redis"
	"github.com/burugo/queryopt/drivers/sqlite"
)

// settings are the global command-line flags.
type settings struct {
	Driver     string
	DSN        string
	ConfigPath string
	LogFile    string
}

// application holds what the commands need; wire fills it in.
type application struct {
	Provider  queryopt.Provider
	Optimizer *queryopt.Optimizer
}

// provideProvider opens the backend selected by --driver.
func provideProvider(ctx context.Context, s settings) (queryopt.Provider, func(), error) {
	var (
		p   queryopt.Provider
		err error
	)
	switch strings.ToLower(s.Driver) {
	case "", "memory":
		p = memory.NewProvider()
	case "sqlite":
		dsn := s.DSN
		if dsn == "" {
			dsn = "queryopt.db"
		}
		p, err = sqlite.NewProvider(dsn)
	case "postgres":
		p, err = postgres.NewProvider(ctx, s.DSN, nil)
	case "redis":
		addr := s.DSN
		if addr == "" {
			addr = "localhost:6379"
		}
		p, err = redis.NewProvider(nil, &redis.Options{Addr: addr})
	case "badger":
		p, err = badger.Open(s.DSN)
	default:
		return nil, nil, fmt.Errorf("unknown driver %q (memory, sqlite, postgres, redis, badger)", s.Driver)
	}
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("Error closing provider %s: %v", p.Name(), err)
			}
		}
	}
	return p, cleanup, nil
}

// provideConfig loads --config, or the defaults when it is not set.
func provideConfig(s settings) (queryopt.Config, error) {
	if s.ConfigPath == "" {
		return queryopt.DefaultConfig(), nil
	}
	return queryopt.LoadConfig(s.ConfigPath)
}

func provideOptimizer(p queryopt.Provider, cfg queryopt.Config) (*queryopt.Optimizer, func(), error) {
	opt, err := queryopt.New(p, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := opt.Close(); err != nil {
			log.Printf("Error closing optimizer: %v", err)
		}
	}
	return opt, cleanup, nil
}

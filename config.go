package queryopt

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Backoff selects how the delay between retries grows.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Config holds the optimizer settings.
type Config struct {
	EnableCaching bool
	CacheTTL      time.Duration // <= 0 means entries never expire
	MaxCacheSize  int

	EnableBatching bool
	BatchSize      int
	BatchTimeout   time.Duration

	EnableDeduplication bool
	EnableMonitoring    bool // query history and events

	QueryTimeout time.Duration // per provider attempt, 0 disables the deadline
	MaxRetries   int
	RetryDelay   time.Duration
	RetryBackoff Backoff

	HistorySize     int
	DefaultPageSize int // page size assumed by the HasMore heuristic when none is requested
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		EnableCaching:       true,
		CacheTTL:            5 * time.Minute,
		MaxCacheSize:        100,
		EnableBatching:      false,
		BatchSize:           10,
		BatchTimeout:        50 * time.Millisecond,
		EnableDeduplication: true,
		EnableMonitoring:    true,
		QueryTimeout:        30 * time.Second,
		MaxRetries:          0,
		RetryDelay:          100 * time.Millisecond,
		RetryBackoff:        BackoffFixed,
		HistorySize:         1000,
		DefaultPageSize:     50,
	}
}

// Validate rejects settings outside their accepted range with ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	if c.EnableCaching && c.MaxCacheSize < 1 {
		bad("MaxCacheSize must be at least 1, got %d", c.MaxCacheSize)
	}
	if c.CacheTTL < 0 {
		bad("CacheTTL must not be negative, got %s", c.CacheTTL)
	}
	if c.EnableBatching {
		if c.BatchSize < 1 {
			bad("BatchSize must be at least 1, got %d", c.BatchSize)
		}
		if c.BatchTimeout <= 0 {
			bad("BatchTimeout must be positive, got %s", c.BatchTimeout)
		}
	}
	if c.QueryTimeout < 0 {
		bad("QueryTimeout must not be negative, got %s", c.QueryTimeout)
	}
	if c.MaxRetries < 0 {
		bad("MaxRetries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		bad("RetryDelay must not be negative, got %s", c.RetryDelay)
	}
	if c.RetryBackoff != BackoffFixed && c.RetryBackoff != BackoffExponential {
		bad("unknown RetryBackoff %q", c.RetryBackoff)
	}
	if c.HistorySize < 0 {
		bad("HistorySize must not be negative, got %d", c.HistorySize)
	}
	if c.DefaultPageSize < 1 {
		bad("DefaultPageSize must be at least 1, got %d", c.DefaultPageSize)
	}
	return errors.Join(errs...)
}

// maxRetryDelay caps exponential backoff when QueryTimeout is disabled.
const maxRetryDelay = time.Minute

// retryDelay returns the wait before retry number attempt (0-based). Exponential delays
// stop growing at QueryTimeout, or maxRetryDelay when there is no timeout.
func (c Config) retryDelay(attempt int) time.Duration {
	if c.RetryBackoff != BackoffExponential || c.RetryDelay <= 0 {
		return c.RetryDelay
	}
	limit := c.QueryTimeout
	if limit <= 0 {
		limit = maxRetryDelay
	}
	if c.RetryDelay >= limit {
		return c.RetryDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 63 || c.RetryDelay > limit>>attempt {
		return limit
	}
	return c.RetryDelay << attempt
}

// --- Config files ---

// fileConfig is the on-disk shape of Config. Pointer fields keep defaults for keys the
// file leaves out; durations are strings such as "5m" or "50ms".
type fileConfig struct {
	EnableCaching       *bool   `yaml:"enable_caching" toml:"enable_caching"`
	CacheTTL            *string `yaml:"cache_ttl" toml:"cache_ttl"`
	MaxCacheSize        *int    `yaml:"max_cache_size" toml:"max_cache_size"`
	EnableBatching      *bool   `yaml:"enable_batching" toml:"enable_batching"`
	BatchSize           *int    `yaml:"batch_size" toml:"batch_size"`
	BatchTimeout        *string `yaml:"batch_timeout" toml:"batch_timeout"`
	EnableDeduplication *bool   `yaml:"enable_deduplication" toml:"enable_deduplication"`
	EnableMonitoring    *bool   `yaml:"enable_monitoring" toml:"enable_monitoring"`
	QueryTimeout        *string `yaml:"query_timeout" toml:"query_timeout"`
	MaxRetries          *int    `yaml:"max_retries" toml:"max_retries"`
	RetryDelay          *string `yaml:"retry_delay" toml:"retry_delay"`
	RetryBackoff        *string `yaml:"retry_backoff" toml:"retry_backoff"`
	HistorySize         *int    `yaml:"history_size" toml:"history_size"`
	DefaultPageSize     *int    `yaml:"default_page_size" toml:"default_page_size"`
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file on top of DefaultConfig and
// validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

// ParseConfig decodes data in the given format ("yaml", "yml" or "toml").
func ParseConfig(data []byte, format string) (Config, error) {
	var fc fileConfig
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("%w: parse yaml: %v", ErrInvalidConfig, err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("%w: parse toml: %v", ErrInvalidConfig, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, format)
	}

	cfg := DefaultConfig()
	setBool(&cfg.EnableCaching, fc.EnableCaching)
	setInt(&cfg.MaxCacheSize, fc.MaxCacheSize)
	setBool(&cfg.EnableBatching, fc.EnableBatching)
	setInt(&cfg.BatchSize, fc.BatchSize)
	setBool(&cfg.EnableDeduplication, fc.EnableDeduplication)
	setBool(&cfg.EnableMonitoring, fc.EnableMonitoring)
	setInt(&cfg.MaxRetries, fc.MaxRetries)
	setInt(&cfg.HistorySize, fc.HistorySize)
	setInt(&cfg.DefaultPageSize, fc.DefaultPageSize)
	if fc.RetryBackoff != nil {
		cfg.RetryBackoff = Backoff(strings.ToLower(*fc.RetryBackoff))
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"cache_ttl", fc.CacheTTL, &cfg.CacheTTL},
		{"batch_timeout", fc.BatchTimeout, &cfg.BatchTimeout},
		{"query_timeout", fc.QueryTimeout, &cfg.QueryTimeout},
		{"retry_delay", fc.RetryDelay, &cfg.RetryDelay},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// --- Global Configuration ---

var (
	globalOptimizer *Optimizer
	configMutex     sync.RWMutex
)

// Configure builds the package-level optimizer used by Default. It may be called again to
// replace it; the previous optimizer is closed. Without a Config, DefaultConfig is used.
func Configure(provider Provider, cfg ...Config) error {
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	opt, err := New(provider, c)
	if err != nil {
		return err
	}

	configMutex.Lock()
	prev := globalOptimizer
	globalOptimizer = opt
	configMutex.Unlock()

	if prev != nil {
		prev.Close()
	}
	log.Printf("queryopt configured globally with provider %s.", provider.Name())
	return nil
}

// Default returns the optimizer installed by Configure.
func Default() (*Optimizer, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()
	if globalOptimizer == nil {
		return nil, ErrNotConfigured
	}
	return globalOptimizer, nil
}

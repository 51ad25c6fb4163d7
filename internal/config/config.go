// Package config holds the explicit configuration records each component
// is constructed with: options are passed as explicit records at
// construction rather than read from package-level globals.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RetryPolicy configures the Connection Pool's exponential-backoff retry.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      bool          `yaml:"jitter"`
}

// PoolConfig configures the Connection Pool.
type PoolConfig struct {
	MinConnections      int           `yaml:"min_connections"`
	MaxConnections      int           `yaml:"max_connections"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	Retry               RetryPolicy   `yaml:"retry_policy"`
	WarmConnections     bool          `yaml:"warm_connections"`
	ValidateOnCheckout  bool          `yaml:"validate_on_checkout"`
	RecycleAfterUses    int           `yaml:"recycle_after_uses"` // 0 = disabled
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	// CircuitBreaker thresholds.
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownPeriod   time.Duration `yaml:"cooldown_period"`
}

// DefaultPoolConfig returns sane defaults for local development.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConnections:      2,
		MaxConnections:      16,
		ConnectionTimeout:   5 * time.Second,
		IdleTimeout:         5 * time.Minute,
		MaxLifetime:         30 * time.Minute,
		Retry:               RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true},
		ValidateOnCheckout:  true,
		ShutdownGracePeriod: 10 * time.Second,
		FailureThreshold:    5,
		CooldownPeriod:      5 * time.Second,
	}
}

// LockConfig configures the Lock Manager.
type LockConfig struct {
	DetectionInterval time.Duration `yaml:"detection_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// DefaultLockConfig returns the recommended default lock configuration.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		DetectionInterval: 100 * time.Millisecond,
		CleanupInterval:   1 * time.Second,
	}
}

// HNSWConfig configures the vector index.
type HNSWConfig struct {
	M                 int  `yaml:"m"`
	EfConstruct       int  `yaml:"ef_construct"`
	FullScanThreshold int  `yaml:"full_scan_threshold"`
	OnDisk            bool `yaml:"on_disk"`
}

// DefaultHNSWConfig returns reasonable defaults.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruct: 100, FullScanThreshold: 10_000, OnDisk: false}
}

// SearchConfig configures the Search Orchestrator.
type SearchConfig struct {
	QueueCapacityPerLevel int     `yaml:"queue_capacity_per_level"`
	FairnessK             int     `yaml:"fairness_k"`
	KeywordWeight         float64 `yaml:"keyword_weight"`
	VectorWeight          float64 `yaml:"vector_weight"`
	MaxConcurrentSearches int     `yaml:"max_concurrent_searches"`

	// PerAgentRateLimit/PerAgentBurst bound how often a single agent may
	// submit a search; zero disables rate limiting entirely.
	PerAgentRateLimit float64 `yaml:"per_agent_rate_limit"`
	PerAgentBurst     int     `yaml:"per_agent_burst"`
}

// DefaultSearchConfig returns the recommended default search configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		QueueCapacityPerLevel: 100,
		FairnessK:             16,
		KeywordWeight:         0.4,
		VectorWeight:          0.6,
		MaxConcurrentSearches: 32,
		PerAgentRateLimit:     20,
		PerAgentBurst:         40,
	}
}

// MemoryConfig configures the Memory Pool & Access Control layer.
type MemoryConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	EntryTTL  time.Duration `yaml:"entry_ttl"`
}

// DefaultMemoryConfig returns reasonable defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{RedisAddr: "localhost:6379", RedisDB: 0, EntryTTL: 0}
}

// StoreConfig configures the Store Abstraction's SQL backend.
type StoreConfig struct {
	DSN               string `yaml:"dsn"`
	MigrationsPath    string `yaml:"migrations_path"`
	SnapshotDirectory string `yaml:"snapshot_directory"`
}

// Config aggregates every component's configuration record.
type Config struct {
	Pool        PoolConfig   `yaml:"pool"`
	Lock        LockConfig   `yaml:"lock"`
	HNSW        HNSWConfig   `yaml:"hnsw"`
	Search      SearchConfig `yaml:"search"`
	Memory      MemoryConfig `yaml:"memory"`
	Store       StoreConfig  `yaml:"store"`
	CoordinatorPermits int   `yaml:"coordinator_permits"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Pool:               DefaultPoolConfig(),
		Lock:               DefaultLockConfig(),
		HNSW:               DefaultHNSWConfig(),
		Search:             DefaultSearchConfig(),
		Memory:             DefaultMemoryConfig(),
		Store:              StoreConfig{MigrationsPath: "internal/store/migrations", SnapshotDirectory: "./snapshots"},
		CoordinatorPermits: 64,
	}
}

// Load reads a YAML config file (if present) over the defaults, then
// applies `.env`-style environment overrides for the store DSN and memory
// Redis address — the two settings that most commonly differ between a
// developer's machine and CI.
func Load(path string) (Config, error) {
	cfg := Default()

	_ = godotenv.Load() // best-effort; absence of a .env file is not an error

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if dsn := os.Getenv("CORTEXMESH_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if addr := os.Getenv("CORTEXMESH_REDIS_ADDR"); addr != "" {
		cfg.Memory.RedisAddr = addr
	}

	return cfg, nil
}

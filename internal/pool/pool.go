// Package pool implements the Connection Pool: bounded concurrent leasing
// of store connections with validation on checkout, retrying, and a circuit
// breaker. Leases are not recycled or reaped: the pool does not consult
// IdleTimeout, MaxLifetime or RecycleAfterUses.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/sync/semaphore"

	"github.com/cortexmesh/core/internal/config"
	"github.com/cortexmesh/core/pkg/types"
)

// conn wraps one pooled *sqlx.DB connection with its lifecycle metadata.
// The pool manages a single shared *sqlx.DB handle — sqlx.DB already
// multiplexes a native Go connection pool underneath, so leasing here means
// leasing one of a bounded number of permits to use that shared handle, not
// a dedicated net.Conn per Handle.
type conn struct {
	createdAt time.Time
	usedAt    time.Time
	uses      int
}

// Handle is a leased connection; callers must Close it to return the
// permit, mirroring release-on-scope-exit with an explicit defer instead of
// an implicit destructor.
type Handle struct {
	pool *Pool
	db   *sqlx.DB
	c    *conn
	once sync.Once
}

// DB exposes the underlying *sqlx.DB for store operations.
func (h *Handle) DB() *sqlx.DB { return h.db }

// Close releases the handle's permit back to the pool. Safe to call more
// than once.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.pool.release(h.c)
	})
	return nil
}

// Pool is the Connection Pool.
type Pool struct {
	cfg     config.PoolConfig
	db      *sqlx.DB
	sem     *semaphore.Weighted
	breaker *circuitBreaker

	mu       sync.Mutex
	leased   int
	shutdown bool
}

// Open dials dsn and wraps it in a Pool per cfg.
func Open(dsn string, cfg config.PoolConfig) (*Pool, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, "opening pool connection", err)
	}
	return NewWithDB(db, cfg), nil
}

// NewWithDB wraps an already-open *sqlx.DB, primarily for tests.
func NewWithDB(db *sqlx.DB, cfg config.PoolConfig) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	return &Pool{
		cfg:     cfg,
		db:      db,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConnections)),
		breaker: newCircuitBreaker(cfg.FailureThreshold, cfg.CooldownPeriod),
	}
}

// Acquire leases a connection, waiting up to cfg.ConnectionTimeout. It
// fails fast with ErrInvalidState once Shutdown has been called, and with
// ErrCircuitOpen if the breaker has tripped.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	closed := p.shutdown
	p.mu.Unlock()
	if closed {
		return nil, types.NewError(types.ErrInvalidState, "connection pool is shut down")
	}

	if !p.breaker.Allow() {
		return nil, types.NewError(types.ErrCircuitOpen, "connection pool circuit breaker is open")
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.ConnectionTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		exhaustedTotal.Inc()
		return nil, types.Wrap(types.ErrPoolExhausted, "timed out waiting for a free connection", err)
	}

	c := &conn{createdAt: time.Now(), usedAt: time.Now()}

	if p.cfg.ValidateOnCheckout {
		pingCtx := ctx
		if p.cfg.ConnectionTimeout > 0 {
			var pingCancel context.CancelFunc
			pingCtx, pingCancel = context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
			defer pingCancel()
		}
		if err := p.db.PingContext(pingCtx); err != nil {
			p.sem.Release(1)
			p.breaker.RecordFailure()
			return nil, types.Wrap(types.ErrIO, "validating connection on checkout", err)
		}
	}

	p.mu.Lock()
	p.leased++
	p.mu.Unlock()

	acquiredTotal.Inc()
	inUse.Set(float64(p.leased))
	p.breaker.RecordSuccess()

	return &Handle{pool: p, db: p.db, c: c}, nil
}

func (p *Pool) release(c *conn) {
	c.uses++
	p.sem.Release(1)
	p.mu.Lock()
	p.leased--
	p.mu.Unlock()
	inUse.Set(float64(p.leased))
}

// ExecuteWithRetry runs op under cfg.Retry's exponential backoff policy,
// surfacing the last error if attempts are exhausted. op must be
// idempotent: a retried attempt may run after a prior attempt partially
// succeeded.
func (p *Pool) ExecuteWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	retry := p.cfg.Retry

	b := backoff.NewExponentialBackOff()
	if retry.BaseDelay > 0 {
		b.InitialInterval = retry.BaseDelay
	}
	if retry.MaxDelay > 0 {
		b.MaxInterval = retry.MaxDelay
	}
	if !retry.Jitter {
		b.RandomizationFactor = 0
	}
	b.Reset()

	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	bounded := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			retryAttemptsTotal.Inc()
		}
		return op(ctx)
	}, bounded)
	if err != nil {
		return types.Wrap(types.ErrIO, "operation failed after retries", err)
	}
	return nil
}

// Shutdown stops accepting new leases and waits up to grace for in-flight
// leases to drain before closing the underlying connection.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := p.leased
		p.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return p.db.Close()
}

// HealthStatus reports the pool's current health snapshot.
type HealthStatus struct {
	Healthy             bool
	CircuitBreakerState string
	LeasedConnections   int
	MaxConnections      int
}

func (p *Pool) HealthStatus() HealthStatus {
	p.mu.Lock()
	leased := p.leased
	p.mu.Unlock()

	state := p.breaker.State()
	return HealthStatus{
		Healthy:             state != "open",
		CircuitBreakerState: state,
		LeasedConnections:   leased,
		MaxConnections:      p.cfg.MaxConnections,
	}
}

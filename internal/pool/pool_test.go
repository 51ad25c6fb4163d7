package pool

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/core/internal/config"
	"github.com/cortexmesh/core/pkg/types"
)

func newMockPool(t *testing.T, cfg config.PoolConfig) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewWithDB(sqlxDB, cfg), mock
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.ValidateOnCheckout = false
	p, _ := newMockPool(t, cfg)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.HealthStatus().LeasedConnections)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, p.HealthStatus().LeasedConnections)
}

func TestAcquireValidatesOnCheckoutWithPing(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.ValidateOnCheckout = true

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	p := NewWithDB(sqlx.NewDb(db, "postgres"), cfg)
	mock.ExpectPing()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.ValidateOnCheckout = false
	cfg.MaxConnections = 1
	cfg.ConnectionTimeout = 20 * time.Millisecond
	p, _ := newMockPool(t, cfg)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Close()

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrPoolExhausted, kind)
}

func TestExecuteWithRetryStopsAfterMaxAttempts(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.Retry = config.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: false}
	p, _ := newMockPool(t, cfg)

	attempts := 0
	err := p.ExecuteWithRetry(context.Background(), func(_ context.Context) error {
		attempts++
		return types.NewError(types.ErrIO, "transient failure")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.Retry = config.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: false}
	p, _ := newMockPool(t, cfg)

	attempts := 0
	err := p.ExecuteWithRetry(context.Background(), func(_ context.Context) error {
		attempts++
		if attempts < 2 {
			return types.NewError(types.ErrIO, "transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newCircuitBreaker(3, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.False(t, b.Allow())
	assert.Equal(t, "open", b.State())
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	b := newCircuitBreaker(1, 10*time.Millisecond)
	b.Allow()
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, "half_open", b.State())

	b.RecordSuccess()
	assert.Equal(t, "closed", b.State())
}

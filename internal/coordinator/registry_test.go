package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/core/pkg/types"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(4)
	ctx := r.Register("agent-1", types.RoleWorker, []string{"search", "merge"})

	assert.Equal(t, "agent-1", ctx.AgentID)
	assert.True(t, r.Exists("agent-1"))
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, types.RoleWorker, got.Role)
	assert.True(t, got.Capabilities["search"])
}

func TestUnregisterRemovesMetrics(t *testing.T) {
	r := NewRegistry(4)
	r.Register("agent-1", types.RoleWorker, nil)
	r.RecordSearch("agent-1", 10*time.Millisecond, true)

	r.Unregister("agent-1")
	assert.False(t, r.Exists("agent-1"))
	assert.Equal(t, 0, r.Count())

	// Metrics for an unregistered agent start fresh rather than erroring.
	m := r.GetMetrics("agent-1")
	assert.Equal(t, uint64(0), m.SearchCount)
}

func TestListReturnsAllRegistered(t *testing.T) {
	r := NewRegistry(4)
	r.Register("a", types.RoleWorker, nil)
	r.Register("b", types.RoleSpecialist, nil)

	names := map[string]bool{}
	for _, ctx := range r.List() {
		names[ctx.AgentID] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])
	assert.Len(t, r.List(), 2)
}

func TestRecordSearchAggregatesLatencyAndCacheRate(t *testing.T) {
	r := NewRegistry(4)
	r.Register("agent-1", types.RoleWorker, nil)

	r.RecordSearch("agent-1", 10*time.Millisecond, true)
	r.RecordSearch("agent-1", 30*time.Millisecond, false)

	m := r.GetMetrics("agent-1")
	assert.Equal(t, uint64(2), m.SearchCount)
	assert.InDelta(t, 20.0, m.AvgSearchLatency, 0.5)
	assert.InDelta(t, 0.5, m.CacheHitRate, 1e-9)
}

func TestRecordErrorIncrements(t *testing.T) {
	r := NewRegistry(4)
	r.Register("agent-1", types.RoleWorker, nil)
	r.RecordError("agent-1")
	r.RecordError("agent-1")

	assert.Equal(t, uint64(2), r.GetMetrics("agent-1").Errors)
}

func TestAcquirePermitBlocksAtCapacity(t *testing.T) {
	r := NewRegistry(1)

	release1, err := r.AcquirePermit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = r.AcquirePermit(ctx)
	assert.Error(t, err)
	kind, ok := types.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, types.ErrTimeout, kind)

	release1()

	release2, err := r.AcquirePermit(context.Background())
	require.NoError(t, err)
	release2()
}

func TestAcquirePermitReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry(1)
	release, err := r.AcquirePermit(context.Background())
	require.NoError(t, err)

	release()
	assert.NotPanics(t, func() { release() })
}

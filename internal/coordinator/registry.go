// Package coordinator implements the Agent Coordinator:
// agent lifecycle, per-agent metrics, concurrency permits, and an
// inter-agent message bus. Its registry uses the same sync.RWMutex-guarded
// map shape as every other registry in this codebase, generalized from
// "named LLM agent presets" to "registered autonomous agents with roles
// and capabilities".
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cortexmesh/core/internal/event"
	"github.com/cortexmesh/core/pkg/types"
)

// Registry manages registered agent contexts, their metrics, and their
// inter-agent message inboxes.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*types.AgentContext
	metrics map[string]*agentMetrics

	permits   *semaphore.Weighted
	messaging *Messaging
}

// agentMetrics holds the atomic counters backing types.AgentMetrics; the
// hot path (RecordSearch/RecordError) never takes the registry's mutex.
type agentMetrics struct {
	searchCount     uint64
	errors          uint64
	totalLatencyNS  uint64
	cacheHits       uint64
	cacheLookups    uint64
	lastActiveUnix  int64
}

// NewRegistry creates an agent coordinator with maxPermits concurrently
// in-flight searches allowed across all agents, a bounded pool of permits
// shared by every registered agent.
func NewRegistry(maxPermits int64) *Registry {
	if maxPermits <= 0 {
		maxPermits = 1
	}
	return &Registry{
		agents:    make(map[string]*types.AgentContext),
		metrics:   make(map[string]*agentMetrics),
		permits:   semaphore.NewWeighted(maxPermits),
		messaging: NewMessaging(defaultInboxCapacity),
	}
}

// defaultInboxCapacity is the per-agent bounded inbox size before
// SendMessage starts dropping the oldest queued message.
const defaultInboxCapacity = 256

// Register adds or updates an agent context.
func (r *Registry) Register(agentID string, role types.AgentRole, capabilities []string) *types.AgentContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	ctx := &types.AgentContext{
		AgentID:      agentID,
		Role:         role,
		Capabilities: caps,
		LastActive:   time.Now(),
	}
	r.agents[agentID] = ctx
	if _, ok := r.metrics[agentID]; !ok {
		r.metrics[agentID] = &agentMetrics{}
	}

	_ = r.messaging.EnsureInbox(context.Background(), agentID)

	event.PublishAgentRegistered(ctx)
	return ctx
}

// Unregister removes an agent, its metrics, and its message inbox.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	delete(r.agents, agentID)
	delete(r.metrics, agentID)
	r.mu.Unlock()

	r.messaging.CloseInbox(agentID)
	event.PublishAgentUnregistered(agentID)
}

// SendMessage delivers a message to an agent's inbox. If toAgent is not
// currently registered the message is dropped, per Messaging.SendMessage.
func (r *Registry) SendMessage(ctx context.Context, fromAgent, toAgent, msgType string, payload []byte) error {
	return r.messaging.SendMessage(ctx, Message{
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Type:      msgType,
		Payload:   payload,
	})
}

// GetMessages drains agentID's inbox, oldest message first.
func (r *Registry) GetMessages(agentID string) []Message {
	return r.messaging.GetMessages(agentID)
}

// PendingMessageCount reports how many messages are queued for agentID.
func (r *Registry) PendingMessageCount(agentID string) int {
	return r.messaging.PendingCount(agentID)
}

// Get retrieves a registered agent context.
func (r *Registry) Get(agentID string) (*types.AgentContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.agents[agentID]
	return ctx, ok
}

// List returns every registered agent context.
func (r *Registry) List() []*types.AgentContext {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.AgentContext, 0, len(r.agents))
	for _, ctx := range r.agents {
		out = append(out, ctx)
	}
	return out
}

// Exists reports whether an agent is registered.
func (r *Registry) Exists(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) metricsFor(agentID string) *agentMetrics {
	r.mu.RLock()
	m, ok := r.metrics[agentID]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[agentID]; ok {
		return m
	}
	m = &agentMetrics{}
	r.metrics[agentID] = m
	return m
}

// RecordSearch updates an agent's search count and rolling average latency.
func (r *Registry) RecordSearch(agentID string, latency time.Duration, cacheHit bool) {
	m := r.metricsFor(agentID)
	atomic.AddUint64(&m.searchCount, 1)
	atomic.AddUint64(&m.totalLatencyNS, uint64(latency.Nanoseconds()))
	atomic.AddUint64(&m.cacheLookups, 1)
	if cacheHit {
		atomic.AddUint64(&m.cacheHits, 1)
	}
	atomic.StoreInt64(&m.lastActiveUnix, time.Now().Unix())
}

// RecordError increments an agent's error counter.
func (r *Registry) RecordError(agentID string) {
	m := r.metricsFor(agentID)
	atomic.AddUint64(&m.errors, 1)
	atomic.StoreInt64(&m.lastActiveUnix, time.Now().Unix())
}

// GetMetrics returns a snapshot of one agent's metrics.
func (r *Registry) GetMetrics(agentID string) types.AgentMetrics {
	m := r.metricsFor(agentID)
	count := atomic.LoadUint64(&m.searchCount)
	var avg float64
	if count > 0 {
		avg = float64(atomic.LoadUint64(&m.totalLatencyNS)) / float64(count) / 1e6
	}
	lookups := atomic.LoadUint64(&m.cacheLookups)
	var hitRate float64
	if lookups > 0 {
		hitRate = float64(atomic.LoadUint64(&m.cacheHits)) / float64(lookups)
	}
	return types.AgentMetrics{
		SearchCount:      count,
		AvgSearchLatency: avg,
		CacheHitRate:     hitRate,
		Errors:           atomic.LoadUint64(&m.errors),
		LastActive:       time.Unix(atomic.LoadInt64(&m.lastActiveUnix), 0),
	}
}

// SystemStats aggregates counters across every registered agent.
type SystemStats struct {
	AgentCount      int
	TotalSearches   uint64
	TotalErrors     uint64
	PermitsInUse    int64
	PermitsTotal    int64
}

// AcquirePermit blocks until a concurrent-search permit is available or ctx
// is done. Both internal/pool and internal/coordinator reuse the same
// golang.org/x/sync/semaphore.Weighted idiom for bounded concurrent access
// to a scarce resource.
func (r *Registry) AcquirePermit(ctx context.Context) (release func(), err error) {
	if err := r.permits.Acquire(ctx, 1); err != nil {
		return nil, types.Wrap(types.ErrTimeout, "permit acquisition timed out", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.permits.Release(1) })
	}, nil
}

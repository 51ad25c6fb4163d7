// Package search implements the Search Orchestrator: priority-queued,
// namespace-scoped, and federated hybrid search across keyword and vector
// signals.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cortexmesh/core/internal/event"
	"github.com/cortexmesh/core/internal/logging"
	"github.com/cortexmesh/core/internal/store/vectorindex"
	"github.com/cortexmesh/core/pkg/types"
)

// log returns the search orchestrator's component-tagged logger, read fresh
// each call so a later logging.Init reconfiguration takes effect immediately.
func log() zerolog.Logger {
	return logging.For(logging.ComponentSearch)
}

// Mode selects how a search fans out across namespaces/agents.
type Mode string

const (
	ModeScoped         Mode = "scoped"
	ModeCrossNamespace Mode = "cross_namespace"
	ModeFederated      Mode = "federated"
	ModeBroadcast      Mode = "broadcast"
)

// Weights controls the hybrid keyword/vector blend.
type Weights struct {
	Keyword float64
	Vector  float64
}

// DefaultWeights returns the default keyword/vector score blend.
func DefaultWeights() Weights { return Weights{Keyword: 0.4, Vector: 0.6} }

// Result is one scored hit.
type Result struct {
	Key       string
	Namespace string
	Score     float64
}

// Stats summarizes a federated/broadcast search.
type Stats struct {
	AgentsQueried      int
	NamespacesSearched int
	PerAgentLatencyMs  map[string]int64
}

// Request is one search call.
type Request struct {
	RequestingAgent string
	Namespaces      []string // explicit targets for Scoped/CrossNamespace
	QueryText       string
	QueryVector     []float32
	Mode            Mode
	K               int
	Weights         Weights
	Priority        Level
}

// Response is what a Request ultimately resolves to.
type Response struct {
	Results  []Result
	PerAgent map[string][]Result // populated only for ModeBroadcast
	Stats    Stats
	Err      error
}

// VectorStore is the vector-search surface the local engine queries;
// internal/store.Store implements it.
type VectorStore interface {
	SearchVectors(ctx context.Context, namespace string, query []float32, k int, metadataFilter func(entityID string) bool) ([]vectorindex.Scored, error)
}

// PermitAcquirer bounds concurrent in-flight searches; internal/coordinator.Registry
// implements it.
type PermitAcquirer interface {
	AcquirePermit(ctx context.Context) (func(), error)
}

// Engine runs one search within one namespace; LocalEngine is the
// in-process implementation, federation dispatches to one Engine per
// registered agent.
type Engine interface {
	Search(ctx context.Context, namespace string, req Request) ([]Result, error)
}

type queueItem struct {
	ctx context.Context
	req Request
	out chan Response
}

// Orchestrator is the Search Orchestrator.
type Orchestrator struct {
	mu      sync.RWMutex
	engines map[string]Engine // agent_id -> engine, for Federated/Broadcast fan-out

	queue   *priorityQueue
	permits PermitAcquirer

	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter
	limitRate  rate.Limit
	limitBurst int

	workers  int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Search Orchestrator. permits may be nil to run unbounded.
// cfg.PerAgentRateLimit of zero disables per-agent rate limiting.
func New(cfg QueueConfig, permits PermitAcquirer, workers int) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		engines:    map[string]Engine{},
		queue:      newPriorityQueue(cfg),
		permits:    permits,
		limiters:   map[string]*rate.Limiter{},
		limitRate:  rate.Limit(cfg.PerAgentRateLimit),
		limitBurst: cfg.PerAgentBurst,
		workers:    workers,
		stopCh:     make(chan struct{}),
	}
}

// limiterFor returns (creating if necessary) the token bucket governing
// agentID's search submission rate.
func (o *Orchestrator) limiterFor(agentID string) *rate.Limiter {
	o.limiterMu.Lock()
	defer o.limiterMu.Unlock()
	l, ok := o.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(o.limitRate, o.limitBurst)
		o.limiters[agentID] = l
	}
	return l
}

// RegisterEngine makes agentID's local engine a federation target.
func (o *Orchestrator) RegisterEngine(agentID string, e Engine) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.engines[agentID] = e
}

// UnregisterEngine removes agentID from federation targets.
func (o *Orchestrator) UnregisterEngine(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.engines, agentID)
}

// Run starts the dequeue loop; it blocks until ctx is canceled or Stop is
// called. The loop pulls requests off the four-level queue and dispatches
// each to its own goroutine, the same pull-off-a-channel-and-stream-
// results shape session processing uses, minus the HTTP transport.
func (o *Orchestrator) Run(ctx context.Context) {
	sem := make(chan struct{}, o.workers)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		default:
		}

		item, ok := o.queue.pop()
		if !ok {
			select {
			case <-o.queue.notify:
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		sem <- struct{}{}
		go func(it *queueItem) {
			defer func() { <-sem }()
			o.execute(it)
		}(item)
	}
}

// Stop halts the dequeue loop started by Run.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Search enqueues req and returns a channel that receives exactly one
// Response. If the queue was already at capacity for req.Priority, the
// oldest queued item at that level is evicted and fails with ErrQueueFull
// on its own channel. If req.RequestingAgent has exceeded its submission
// rate, the request fails immediately with ErrRateLimited without ever
// reaching the queue.
func (o *Orchestrator) Search(ctx context.Context, req Request) <-chan Response {
	out := make(chan Response, 1)

	if o.limitRate > 0 && !o.limiterFor(req.RequestingAgent).Allow() {
		out <- Response{Err: types.NewError(types.ErrRateLimited, "agent exceeded search submission rate")}
		close(out)
		return out
	}

	item := &queueItem{ctx: ctx, req: req, out: out}

	if evicted := o.queue.Push(req.Priority, item); evicted != nil {
		evicted.out <- Response{Err: types.NewError(types.ErrQueueFull, "evicted by newer request at this priority level")}
		close(evicted.out)
	}
	return out
}

func (o *Orchestrator) execute(item *queueItem) {
	defer close(item.out)

	var release func()
	if o.permits != nil {
		r, err := o.permits.AcquirePermit(item.ctx)
		if err != nil {
			item.out <- Response{Err: err}
			return
		}
		release = r
		defer release()
	}

	start := time.Now()
	resp := o.dispatch(item.ctx, item.req)
	latencyMS := time.Since(start).Milliseconds()
	log().Debug().Str("agent_id", item.req.RequestingAgent).Str("mode", string(item.req.Mode)).
		Int("agents_queried", resp.Stats.AgentsQueried).Int("results", len(resp.Results)).
		Int64("latency_ms", latencyMS).Msg("search completed")
	event.PublishSearchCompleted(item.req.RequestingAgent, resp.Stats.AgentsQueried, len(resp.Results), latencyMS)
	item.out <- resp
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request) Response {
	switch req.Mode {
	case ModeFederated, ModeBroadcast:
		return o.federated(ctx, req)
	default:
		namespaces := req.Namespaces
		if req.Mode == ModeScoped && len(namespaces) == 0 {
			namespaces = []string{types.AgentNamespace(req.RequestingAgent)}
		}
		results, err := o.searchNamespaces(ctx, req, namespaces)
		return Response{Results: results, Err: err, Stats: Stats{NamespacesSearched: len(namespaces)}}
	}
}

// searchNamespaces merges a single engine's view across a set of
// namespaces (used by Scoped/CrossNamespace, which never fan out across
// agents).
func (o *Orchestrator) searchNamespaces(ctx context.Context, req Request, namespaces []string) ([]Result, error) {
	o.mu.RLock()
	engine := o.engines[req.RequestingAgent]
	o.mu.RUnlock()
	if engine == nil {
		return nil, types.NewError(types.ErrInvalidInput, "no search engine registered for this agent")
	}

	var all []Result
	for _, ns := range namespaces {
		results, err := engine.Search(ctx, ns, req)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}
	return topK(all, req.K), nil
}

func (o *Orchestrator) federated(ctx context.Context, req Request) Response {
	o.mu.RLock()
	targets := make(map[string]Engine, len(o.engines))
	for id, e := range o.engines {
		targets[id] = e
	}
	o.mu.RUnlock()

	var mu sync.Mutex
	perAgent := make(map[string][]Result, len(targets))
	latencies := make(map[string]int64, len(targets))
	namespacesSeen := map[string]struct{}{}

	g, gctx := errgroup.WithContext(ctx)
	for agentID, engine := range targets {
		agentID, engine := agentID, engine
		g.Go(func() error {
			ns := types.AgentNamespace(agentID)
			start := time.Now()
			results, err := engine.Search(gctx, ns, req)
			elapsed := time.Since(start).Milliseconds()

			mu.Lock()
			defer mu.Unlock()
			latencies[agentID] = elapsed
			namespacesSeen[ns] = struct{}{}
			if err == nil {
				perAgent[agentID] = results
			}
			return nil // a single agent's failure doesn't abort the federation
		})
	}
	_ = g.Wait()

	stats := Stats{AgentsQueried: len(targets), NamespacesSearched: len(namespacesSeen), PerAgentLatencyMs: latencies}

	if req.Mode == ModeBroadcast {
		return Response{PerAgent: perAgent, Stats: stats}
	}

	var merged []Result
	for _, results := range perAgent {
		merged = append(merged, results...)
	}
	return Response{Results: topK(merged, req.K), Stats: stats}
}

func topK(results []Result, k int) []Result {
	sorted := append([]Result(nil), results...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Score > sorted[j-1].Score; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

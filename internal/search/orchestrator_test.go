package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/core/pkg/types"
)

type stubEngine struct {
	results []Result
	err     error
}

func (s *stubEngine) Search(_ context.Context, namespace string, _ Request) ([]Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Result, len(s.results))
	for i, r := range s.results {
		r.Namespace = namespace
		out[i] = r
	}
	return out, nil
}

func TestScopedSearchUsesRequestingAgentsEngine(t *testing.T) {
	o := New(DefaultQueueConfig(), nil, 2)
	o.RegisterEngine("agent1", &stubEngine{results: []Result{{Key: "k1", Score: 0.9}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer o.Stop()

	out := o.Search(ctx, Request{RequestingAgent: "agent1", Mode: ModeScoped, K: 5})
	select {
	case resp := <-out:
		require.NoError(t, resp.Err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "k1", resp.Results[0].Key)
	case <-time.After(time.Second):
		t.Fatal("search never resolved")
	}
}

func TestFederatedSearchQueriesAllRegisteredEngines(t *testing.T) {
	o := New(DefaultQueueConfig(), nil, 4)
	o.RegisterEngine("agent1", &stubEngine{results: []Result{{Key: "a1-k", Score: 0.5}}})
	o.RegisterEngine("agent2", &stubEngine{results: []Result{{Key: "a2-k", Score: 0.9}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer o.Stop()

	out := o.Search(ctx, Request{RequestingAgent: "agent1", Mode: ModeFederated, K: 5})
	select {
	case resp := <-out:
		require.NoError(t, resp.Err)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "a2-k", resp.Results[0].Key) // higher score sorts first
		assert.Equal(t, 2, resp.Stats.AgentsQueried)
	case <-time.After(time.Second):
		t.Fatal("federated search never resolved")
	}
}

func TestBroadcastSearchReturnsPerAgentResults(t *testing.T) {
	o := New(DefaultQueueConfig(), nil, 4)
	o.RegisterEngine("agent1", &stubEngine{results: []Result{{Key: "a1-k", Score: 0.5}}})
	o.RegisterEngine("agent2", &stubEngine{results: []Result{{Key: "a2-k", Score: 0.9}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	defer o.Stop()

	out := o.Search(ctx, Request{RequestingAgent: "agent1", Mode: ModeBroadcast, K: 5})
	select {
	case resp := <-out:
		require.NoError(t, resp.Err)
		assert.Empty(t, resp.Results)
		assert.Len(t, resp.PerAgent, 2)
	case <-time.After(time.Second):
		t.Fatal("broadcast search never resolved")
	}
}

func TestSearchEvictsOldestQueuedItemAtCapacity(t *testing.T) {
	o := New(QueueConfig{Capacity: 1, FairnessK: 16}, nil, 1)
	// No Run() loop started: both requests stay queued, so the second
	// push must evict the first.
	first := o.Search(context.Background(), Request{RequestingAgent: "agent1", Mode: ModeScoped, Priority: LevelNormal})
	o.Search(context.Background(), Request{RequestingAgent: "agent1", Mode: ModeScoped, Priority: LevelNormal})

	select {
	case resp := <-first:
		require.Error(t, resp.Err)
	case <-time.After(time.Second):
		t.Fatal("evicted request never received its error")
	}
}

func TestSearchRejectsOverRateLimitedAgent(t *testing.T) {
	o := New(QueueConfig{Capacity: 10, FairnessK: 16, PerAgentRateLimit: 1, PerAgentBurst: 1}, nil, 1)

	first := o.Search(context.Background(), Request{RequestingAgent: "agent1", Mode: ModeScoped})
	second := o.Search(context.Background(), Request{RequestingAgent: "agent1", Mode: ModeScoped})

	select {
	case resp := <-second:
		require.Error(t, resp.Err)
		assert.Equal(t, types.ErrRateLimited, resp.Err.(*types.CoreError).Kind)
	case <-time.After(time.Second):
		t.Fatal("rate-limited request never received its error")
	}

	// first is still queued (no Run loop started) and unaffected by the
	// rate limit rejection of the second request.
	select {
	case <-first:
		t.Fatal("first request should still be queued, not resolved")
	default:
	}
}

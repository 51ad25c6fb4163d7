package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/core/internal/store/vectorindex"
	"github.com/cortexmesh/core/pkg/types"
)

// fakeVectorStore is a minimal namespace-sharded VectorStore for tests,
// grounded the same way internal/store.Store shards vectorindex.Index
// per namespace.
type fakeVectorStore struct {
	mu     sync.Mutex
	shards map[string]*vectorindex.Index
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{shards: map[string]*vectorindex.Index{}}
}

func (f *fakeVectorStore) shard(ns string) *vectorindex.Index {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.shards[ns]
	if !ok {
		idx = vectorindex.New(vectorindex.DefaultConfig(), types.MetricCosine)
		f.shards[ns] = idx
	}
	return idx
}

func (f *fakeVectorStore) UpsertVector(_ context.Context, ns, entityID string, vector []float32) {
	f.shard(ns).Upsert(entityID, vector)
}

func (f *fakeVectorStore) DeleteVector(_ context.Context, ns, entityID string) {
	f.shard(ns).Delete(entityID)
}

func (f *fakeVectorStore) SearchVectors(_ context.Context, ns string, query []float32, k int, filter func(string) bool) ([]vectorindex.Scored, error) {
	return f.shard(ns).Search(query, k, filter), nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestStoreAndRetrieveSharedEntryAnyAgentCanRead(t *testing.T) {
	p := New(newFakeVectorStore(), newFakeCache(), time.Minute)
	entry := &types.MemoryEntry{Key: "k1", Vector: []float32{1, 0, 0}, OriginAgent: "a1", Policy: types.PolicyShared}
	require.NoError(t, p.Store(context.Background(), entry))

	got, err := p.Retrieve(context.Background(), types.PolicyShared, "a1", "k1", "a2")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.Key)
	assert.Equal(t, uint64(1), got.AccessCount)
}

func TestRetrievePrivateEntryDeniesNonOwner(t *testing.T) {
	p := New(newFakeVectorStore(), newFakeCache(), time.Minute)
	entry := &types.MemoryEntry{Key: "k2", Vector: []float32{0, 1, 0}, OriginAgent: "a1", Policy: types.PolicyPrivate}
	require.NoError(t, p.Store(context.Background(), entry))

	_, err := p.Retrieve(context.Background(), types.PolicyPrivate, "a1", "k2", "a2")
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrAccessDenied, kind)
}

func TestRetrievePrivateEntryAllowsListedReader(t *testing.T) {
	p := New(newFakeVectorStore(), newFakeCache(), time.Minute)
	entry := &types.MemoryEntry{
		Key: "k3", Vector: []float32{0, 0, 1}, OriginAgent: "a1", Policy: types.PolicyPrivate,
		ACL: types.ACL{Readers: []string{"a2"}},
	}
	require.NoError(t, p.Store(context.Background(), entry))

	got, err := p.Retrieve(context.Background(), types.PolicyPrivate, "a1", "k3", "a2")
	require.NoError(t, err)
	assert.Equal(t, "k3", got.Key)
}

func TestAccessCountIncrementsAcrossConcurrentReads(t *testing.T) {
	p := New(newFakeVectorStore(), nil, 0)
	entry := &types.MemoryEntry{Key: "k4", Vector: []float32{1, 1, 0}, OriginAgent: "a1", Policy: types.PolicyShared}
	require.NoError(t, p.Store(context.Background(), entry))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Retrieve(context.Background(), types.PolicyShared, "a1", "k4", "observer")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := p.Retrieve(context.Background(), types.PolicyShared, "a1", "k4", "observer")
	require.NoError(t, err)
	assert.Equal(t, uint64(51), got.AccessCount)
}

func TestSetPolicyRejectsNonOwner(t *testing.T) {
	p := New(newFakeVectorStore(), nil, 0)
	entry := &types.MemoryEntry{Key: "k5", Vector: []float32{1, 0, 0}, OriginAgent: "a1", Policy: types.PolicyPrivate}
	require.NoError(t, p.Store(context.Background(), entry))

	err := p.SetPolicy(context.Background(), "a1", "k5", types.PolicyShared, types.ACL{}, "a2")
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrAccessDenied, kind)
}

func TestSearchFiltersOutUnreadableEntries(t *testing.T) {
	p := New(newFakeVectorStore(), nil, 0)
	require.NoError(t, p.Store(context.Background(), &types.MemoryEntry{
		Key: "visible", Vector: []float32{1, 0, 0}, OriginAgent: "a1", Policy: types.PolicyPrivate,
		ACL: types.ACL{Readers: []string{"a2"}},
	}))
	require.NoError(t, p.Store(context.Background(), &types.MemoryEntry{
		Key: "hidden", Vector: []float32{0.99, 0.01, 0}, OriginAgent: "a1", Policy: types.PolicyPrivate,
	}))

	results, err := p.Search(context.Background(), types.PolicyPrivate, "a1", []float32{1, 0, 0}, 10, "a2")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "hidden", r.Key)
	}
}

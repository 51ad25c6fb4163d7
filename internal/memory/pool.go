// Package memory implements the Memory Pool & Access Control layer: shared,
// private, and hierarchical vector memory entries with per-agent ACLs, an
// access-count hot path, and a redis-backed cache sitting in front of the
// internal/store vector index.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexmesh/core/internal/event"
	"github.com/cortexmesh/core/internal/store/vectorindex"
	"github.com/cortexmesh/core/pkg/types"
)

// VectorStore is the vector-index surface the pool indexes entries
// against; internal/store.Store implements it.
type VectorStore interface {
	UpsertVector(ctx context.Context, namespace, entityID string, vector []float32)
	DeleteVector(ctx context.Context, namespace, entityID string)
	SearchVectors(ctx context.Context, namespace string, query []float32, k int, metadataFilter func(entityID string) bool) ([]vectorindex.Scored, error)
}

// Cache is the subset of a redis client the pool needs; satisfied by
// *Client (backed by go-redis/v9) and by fakeCache in tests.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// shard holds the policy/ACL bookkeeping and access counters for one
// namespace; vectors themselves live in the VectorStore.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*types.MemoryEntry
	access  map[string]*uint64
}

// Pool is the Memory Pool & Access Control layer for one node.
type Pool struct {
	mu     sync.RWMutex
	shards map[string]*shard
	store  VectorStore
	cache  Cache
	ttl    time.Duration
}

// New creates a Memory Pool over a vector store. cache may be nil, in
// which case lookups always fall through to the in-process shard.
func New(store VectorStore, cache Cache, ttl time.Duration) *Pool {
	return &Pool{shards: map[string]*shard{}, store: store, cache: cache, ttl: ttl}
}

func (p *Pool) shardFor(namespace string) *shard {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.shards[namespace]
	if !ok {
		s = &shard{entries: map[string]*types.MemoryEntry{}, access: map[string]*uint64{}}
		p.shards[namespace] = s
	}
	return s
}

// namespaceFor returns the storage namespace for a policy: shared entries
// live in a pool-wide namespace, private and hierarchical entries live
// under the owning agent's namespace.
func namespaceFor(policy types.AccessPolicy, originAgent string) string {
	if policy == types.PolicyShared {
		return "memory::shared"
	}
	return types.AgentNamespace(originAgent)
}

// Store writes entry into the pool, indexing its vector and caching its
// metadata alongside its policy so a read can decide access without a
// second round trip. Callers are expected to have resolved CanWrite
// themselves before calling Store for an update to an existing key.
func (p *Pool) Store(ctx context.Context, entry *types.MemoryEntry) error {
	if entry.Key == "" {
		return types.NewError(types.ErrInvalidInput, "memory entry requires a key")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	ns := namespaceFor(entry.Policy, entry.OriginAgent)
	s := p.shardFor(ns)

	s.mu.Lock()
	cp := *entry
	s.entries[entry.Key] = &cp
	if _, ok := s.access[entry.Key]; !ok {
		var zero uint64
		s.access[entry.Key] = &zero
	}
	s.mu.Unlock()

	p.store.UpsertVector(ctx, ns, entry.Key, entry.Vector)

	if p.cache != nil {
		if raw, err := encodeEntry(&cp); err == nil {
			_ = p.cache.Set(ctx, cacheKey(ns, entry.Key), raw, p.ttl)
		}
	}

	event.PublishMemoryPolicyChanged(entry.Key)
	return nil
}

// Retrieve fetches one entry by key, enforcing requestingAgent's read
// access and incrementing its access count atomically. It checks the
// redis cache first, falling back to the in-process shard.
func (p *Pool) Retrieve(ctx context.Context, policy types.AccessPolicy, originAgent, key, requestingAgent string) (*types.MemoryEntry, error) {
	ns := namespaceFor(policy, originAgent)
	s := p.shardFor(ns)

	entry := p.lookup(ctx, s, ns, key)
	if entry == nil {
		return nil, types.NewError(types.ErrEntityNotFound, "no memory entry for key "+key)
	}
	if !canRead(entry, requestingAgent) {
		event.PublishMemoryAccessDenied(requestingAgent, key)
		return nil, types.NewError(types.ErrAccessDenied, "agent may not read this memory entry")
	}

	s.mu.RLock()
	counter := s.access[key]
	s.mu.RUnlock()
	if counter != nil {
		atomic.AddUint64(counter, 1)
		entry.AccessCount = atomic.LoadUint64(counter)
	}
	return entry, nil
}

func (p *Pool) lookup(ctx context.Context, s *shard, ns, key string) *types.MemoryEntry {
	if p.cache != nil {
		if raw, found, err := p.cache.Get(ctx, cacheKey(ns, key)); err == nil && found {
			if entry, decErr := decodeEntry(raw); decErr == nil {
				return entry
			}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	cp := *entry
	return &cp
}

// Search runs a kNN search within the access-checked namespace, dropping
// any candidate requestingAgent cannot read.
func (p *Pool) Search(ctx context.Context, policy types.AccessPolicy, originAgent string, query []float32, k int, requestingAgent string) ([]*types.MemoryEntry, error) {
	ns := namespaceFor(policy, originAgent)
	s := p.shardFor(ns)

	scored, err := p.store.SearchVectors(ctx, ns, query, k, func(key string) bool {
		s.mu.RLock()
		entry, ok := s.entries[key]
		s.mu.RUnlock()
		return ok && canRead(entry, requestingAgent)
	})
	if err != nil {
		return nil, err
	}

	out := make([]*types.MemoryEntry, 0, len(scored))
	for _, sc := range scored {
		s.mu.RLock()
		entry, ok := s.entries[sc.Key]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

// SetPolicy atomically updates an entry's access policy and ACL with
// respect to in-flight reads. It rejects the change with ErrAccessDenied
// unless requestingAgent is the entry's origin agent or an ACL owner.
func (p *Pool) SetPolicy(ctx context.Context, originAgent, key string, policy types.AccessPolicy, acl types.ACL, requestingAgent string) error {
	ns := namespaceFor(types.PolicyPrivate, originAgent)
	s := p.shardFor(ns)

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return types.NewError(types.ErrEntityNotFound, "no memory entry for key "+key)
	}
	if !entry.ACL.Owns(requestingAgent) && entry.OriginAgent != requestingAgent {
		s.mu.Unlock()
		return types.NewError(types.ErrAccessDenied, "only an owner may change this entry's policy")
	}
	entry.Policy = policy
	entry.ACL = acl
	cp := *entry
	s.mu.Unlock()

	if p.cache != nil {
		_ = p.cache.Del(ctx, cacheKey(ns, key))
	}
	event.PublishMemoryPolicyChanged(cp.Key)
	return nil
}

func canRead(entry *types.MemoryEntry, requestingAgent string) bool {
	switch entry.Policy {
	case types.PolicyShared:
		return true
	case types.PolicyPrivate, types.PolicyHierarchical:
		return entry.OriginAgent == requestingAgent || entry.ACL.CanRead(requestingAgent)
	default:
		return false
	}
}

func cacheKey(namespace, key string) string {
	return namespace + ":" + key
}

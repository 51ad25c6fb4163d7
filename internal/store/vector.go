package store

import (
	"context"
	"sync"

	"github.com/cortexmesh/core/internal/store/vectorindex"
	"github.com/cortexmesh/core/pkg/types"
)

// vectorShards holds one vectorindex.Index per namespace, so a hot
// namespace's graph doesn't force full scans on unrelated namespaces.
type vectorShards struct {
	mu     sync.RWMutex
	cfg    vectorindex.Config
	shards map[string]*vectorindex.Index
}

func newVectorShards() *vectorShards {
	return &vectorShards{cfg: vectorindex.DefaultConfig(), shards: map[string]*vectorindex.Index{}}
}

// SetVectorIndexConfig overrides the HNSW-style parameters used for shards
// created from this point on.
func (s *Store) SetVectorIndexConfig(cfg vectorindex.Config) {
	s.vectors.mu.Lock()
	defer s.vectors.mu.Unlock()
	s.vectors.cfg = cfg
}

func (s *Store) shardFor(namespace string) *vectorindex.Index {
	s.vectors.mu.Lock()
	defer s.vectors.mu.Unlock()
	idx, ok := s.vectors.shards[namespace]
	if !ok {
		idx = vectorindex.New(s.vectors.cfg, types.MetricCosine)
		s.vectors.shards[namespace] = idx
	}
	return idx
}

// UpsertVector indexes or replaces entityID's embedding within namespace.
func (s *Store) UpsertVector(_ context.Context, namespace, entityID string, vector []float32) {
	s.shardFor(namespace).Upsert(entityID, vector)
}

// DeleteVector removes entityID's embedding from namespace's shard.
func (s *Store) DeleteVector(_ context.Context, namespace, entityID string) {
	s.shardFor(namespace).Delete(entityID)
}

// SearchVectors returns the k nearest neighbors of query within namespace.
// metadataFilter, if non-nil, is called with each candidate's entity ID;
// candidates it rejects do not count toward k.
func (s *Store) SearchVectors(ctx context.Context, namespace string, query []float32, k int, metadataFilter func(entityID string) bool) ([]vectorindex.Scored, error) {
	return s.shardFor(namespace).Search(query, k, metadataFilter), nil
}

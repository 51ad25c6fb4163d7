package search

import (
	"context"
	"sync"

	"github.com/cortexmesh/core/pkg/types"
)

// LocalEngine is the in-process Engine: a per-namespace BM25 keyword
// index fronting a VectorStore, combined into the hybrid score
// `w_k * keyword + w_v * vector`.
type LocalEngine struct {
	mu       sync.RWMutex
	vectors  VectorStore
	keywords map[string]*bm25Index // namespace -> index
}

// NewLocalEngine creates a LocalEngine over a shared VectorStore.
func NewLocalEngine(vectors VectorStore) *LocalEngine {
	return &LocalEngine{vectors: vectors, keywords: map[string]*bm25Index{}}
}

func (e *LocalEngine) keywordIndex(namespace string) *bm25Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.keywords[namespace]
	if !ok {
		idx = newBM25Index()
		e.keywords[namespace] = idx
	}
	return idx
}

// IndexDocument registers key's text for keyword scoring within
// namespace; callers index the same key's vector separately through the
// VectorStore (internal/store.Store.UpsertVector).
func (e *LocalEngine) IndexDocument(namespace, key, text string) {
	e.keywordIndex(namespace).Index(key, text)
}

// RemoveDocument drops key from namespace's keyword index.
func (e *LocalEngine) RemoveDocument(namespace, key string) {
	e.keywordIndex(namespace).Delete(key)
}

// Search implements Engine.
func (e *LocalEngine) Search(ctx context.Context, namespace string, req Request) ([]Result, error) {
	weights := req.Weights
	if weights.Keyword == 0 && weights.Vector == 0 {
		weights = DefaultWeights()
	}

	k := req.K
	if k <= 0 {
		k = 10
	}

	scores := map[string]float64{}

	if req.QueryText != "" && weights.Keyword > 0 {
		for key, s := range e.keywordIndex(namespace).Score(req.QueryText) {
			scores[key] += weights.Keyword * s
		}
	}

	if len(req.QueryVector) > 0 && weights.Vector > 0 && e.vectors != nil {
		vecResults, err := e.vectors.SearchVectors(ctx, namespace, req.QueryVector, k*4, nil)
		if err != nil {
			return nil, types.Wrap(types.ErrIO, "vector search", err)
		}
		for _, v := range vecResults {
			scores[v.Key] += weights.Vector * v.Score
		}
	}

	out := make([]Result, 0, len(scores))
	for key, score := range scores {
		out = append(out, Result{Key: key, Namespace: namespace, Score: score})
	}
	return topK(out, k), nil
}

// Package vectorindex implements the Store Abstraction's vector index: a
// from-scratch, in-memory, namespace-sharded structure
// offering brute-force kNN below a configurable full_scan_threshold and a
// greedy, layered (HNSW-style) search above it. No available vector/ANN
// library fit this codebase's dependency stack, so this component is
// implemented on the standard library — justified in DESIGN.md.
package vectorindex

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/cortexmesh/core/pkg/types"
)

// Config mirrors internal/config.HNSWConfig without importing it, keeping
// this package dependency-free of the rest of the module.
type Config struct {
	M                 int
	EfConstruct       int
	FullScanThreshold int
	OnDisk            bool
}

// DefaultConfig matches internal/config.DefaultHNSWConfig.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruct: 100, FullScanThreshold: 10_000, OnDisk: false}
}

type node struct {
	key     string
	vector  []float32
	layer   int
	links   map[int][]string // layer -> neighbor keys
}

// Index is a single namespace's vector shard.
type Index struct {
	cfg    Config
	metric types.DistanceMetric

	mu       sync.RWMutex
	nodes    map[string]*node
	entryKey string
	maxLayer int
}

// New creates an empty index for one namespace.
func New(cfg Config, metric types.DistanceMetric) *Index {
	if metric == "" {
		metric = types.MetricCosine
	}
	return &Index{cfg: cfg, metric: metric, nodes: map[string]*node{}}
}

// Upsert inserts or replaces the vector stored under key.
func (idx *Index) Upsert(key string, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	layer := 0
	if len(idx.nodes) >= idx.cfg.FullScanThreshold {
		layer = randomLayer()
	}

	n := &node{key: key, vector: vector, layer: layer, links: map[int][]string{}}
	idx.nodes[key] = n

	if idx.entryKey == "" || layer > idx.maxLayer {
		idx.entryKey = key
		idx.maxLayer = layer
	}

	if len(idx.nodes) > idx.cfg.FullScanThreshold {
		idx.connectGreedy(n)
	}
}

// Delete removes a key from the index.
func (idx *Index) Delete(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.nodes, key)
	if idx.entryKey == key {
		idx.entryKey = ""
		idx.maxLayer = 0
		for k, n := range idx.nodes {
			if idx.entryKey == "" || n.layer > idx.maxLayer {
				idx.entryKey, idx.maxLayer = k, n.layer
			}
		}
	}
}

// Scored is one kNN result.
type Scored struct {
	Key   string
	Score float64
}

// Search returns the k nearest neighbors of query. Below FullScanThreshold
// it brute-forces every vector; above it, it greedily walks the layered
// graph built during Upsert (an HNSW-style approximate search).
func (idx *Index) Search(query []float32, k int, filter func(key string) bool) []Scored {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) <= idx.cfg.FullScanThreshold || idx.entryKey == "" {
		return idx.bruteForce(query, k, filter)
	}
	return idx.greedySearch(query, k, filter)
}

func (idx *Index) bruteForce(query []float32, k int, filter func(key string) bool) []Scored {
	results := make([]Scored, 0, len(idx.nodes))
	for key, n := range idx.nodes {
		if filter != nil && !filter(key) {
			continue
		}
		results = append(results, Scored{Key: key, Score: similarity(idx.metric, query, n.vector)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// greedySearch walks from the top layer's entry point downward, at each
// layer repeatedly hopping to the best-scoring unvisited neighbor until no
// improvement is found, then descends a layer — the classic HNSW greedy
// routing shape, simplified (no probabilistic ef-search beam).
func (idx *Index) greedySearch(query []float32, k int, filter func(key string) bool) []Scored {
	current := idx.entryKey
	currentScore := similarity(idx.metric, query, idx.nodes[current].vector)

	for layer := idx.maxLayer; layer >= 0; layer-- {
		improved := true
		for improved {
			improved = false
			for _, neighbor := range idx.nodes[current].links[layer] {
				n, ok := idx.nodes[neighbor]
				if !ok {
					continue
				}
				score := similarity(idx.metric, query, n.vector)
				if score > currentScore {
					current, currentScore = neighbor, score
					improved = true
				}
			}
		}
	}

	// Expand the final neighborhood into a candidate pool and rank it,
	// widening with ef_construct so small graphs still return k results.
	seen := map[string]bool{current: true}
	pool := []Scored{{Key: current, Score: currentScore}}
	frontier := []string{current}
	for layer := 0; layer <= idx.maxLayer && len(pool) < idx.cfg.EfConstruct; layer++ {
		for _, f := range frontier {
			for _, neighbor := range idx.nodes[f].links[layer] {
				if seen[neighbor] {
					continue
				}
				seen[neighbor] = true
				if n, ok := idx.nodes[neighbor]; ok {
					pool = append(pool, Scored{Key: neighbor, Score: similarity(idx.metric, query, n.vector)})
				}
			}
		}
	}

	filtered := pool[:0]
	for _, p := range pool {
		if filter == nil || filter(p.Key) {
			filtered = append(filtered, p)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}

// connectGreedy wires n into the graph by linking it (at each of its
// layers, and layer 0) to its M nearest already-indexed neighbors.
func (idx *Index) connectGreedy(n *node) {
	for layer := 0; layer <= n.layer; layer++ {
		candidates := make([]Scored, 0, len(idx.nodes))
		for key, other := range idx.nodes {
			if key == n.key || other.layer < layer {
				continue
			}
			candidates = append(candidates, Scored{Key: key, Score: similarity(idx.metric, n.vector, other.vector)})
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
		m := idx.cfg.M
		if len(candidates) < m {
			m = len(candidates)
		}
		for i := 0; i < m; i++ {
			n.links[layer] = append(n.links[layer], candidates[i].Key)
			other := idx.nodes[candidates[i].Key]
			other.links[layer] = append(other.links[layer], n.key)
		}
	}
}

func randomLayer() int {
	// Exponential decay matching HNSW's level-assignment distribution,
	// capped at a small constant to keep layer counts bounded in-memory.
	layer := 0
	for rand.Float64() < 0.5 && layer < 8 {
		layer++
	}
	return layer
}

func similarity(metric types.DistanceMetric, a, b []float32) float64 {
	switch metric {
	case types.MetricEuclid:
		return -euclidDistance(a, b)
	case types.MetricManhattan:
		return -manhattanDistance(a, b)
	case types.MetricDot:
		return dot(a, b)
	default:
		return cosineSimilarity(a, b)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	var dotProd, normA, normB float64
	n := minLen(a, b)
	for i := 0; i < n; i++ {
		dotProd += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dot(a, b []float32) float64 {
	var sum float64
	n := minLen(a, b)
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func euclidDistance(a, b []float32) float64 {
	var sum float64
	n := minLen(a, b)
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattanDistance(a, b []float32) float64 {
	var sum float64
	n := minLen(a, b)
	for i := 0; i < n; i++ {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

func minLen(a, b []float32) int {
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}

package search

import (
	"math"
	"strings"
	"sync"
)

// bm25Index is a minimal in-process BM25-like keyword scorer: tokenize,
// count term frequencies per document, score by the standard Okapi BM25
// formula. No available keyword-search/inverted-index library fit this
// codebase's stack, so this is implemented directly on the standard
// library (documented as a stdlib exception in DESIGN.md).
type bm25Index struct {
	mu        sync.RWMutex
	docs      map[string][]string // key -> tokens
	docFreq   map[string]int      // term -> number of docs containing it
	totalLen  int
	k1, b     float64
}

func newBM25Index() *bm25Index {
	return &bm25Index{docs: map[string][]string{}, docFreq: map[string]int{}, k1: 1.2, b: 0.75}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	return fields
}

// Index adds or replaces the document stored under key.
func (b *bm25Index) Index(key, text string) {
	tokens := tokenize(text)

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.docs[key]; ok {
		b.totalLen -= len(old)
		for term := range uniqueSet(old) {
			b.docFreq[term]--
		}
	}
	b.docs[key] = tokens
	b.totalLen += len(tokens)
	for term := range uniqueSet(tokens) {
		b.docFreq[term]++
	}
}

func (b *bm25Index) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.docs[key]
	if !ok {
		return
	}
	b.totalLen -= len(old)
	for term := range uniqueSet(old) {
		b.docFreq[term]--
	}
	delete(b.docs, key)
}

func uniqueSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Score returns the BM25 score of query against every indexed document,
// keyed by document key, omitting documents scoring zero.
func (b *bm25Index) Score(query string) map[string]float64 {
	terms := tokenize(query)

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(b.totalLen) / float64(n)

	scores := make(map[string]float64)
	for key, tokens := range b.docs {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		docLen := float64(len(tokens))

		var score float64
		for _, term := range terms {
			freq := tf[term]
			if freq == 0 {
				continue
			}
			df := b.docFreq[term]
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			numerator := float64(freq) * (b.k1 + 1)
			denominator := float64(freq) + b.k1*(1-b.b+b.b*docLen/avgLen)
			score += idf * numerator / denominator
		}
		if score > 0 {
			scores[key] = score
		}
	}
	return scores
}

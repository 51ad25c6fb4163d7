package search

import "testing"

func TestBM25ScoresMoreRelevantDocumentHigher(t *testing.T) {
	idx := newBM25Index()
	idx.Index("doc1", "parse the configuration file and validate its schema")
	idx.Index("doc2", "render the dashboard widgets for the admin panel")

	scores := idx.Score("configuration schema validate")
	if scores["doc1"] <= scores["doc2"] {
		t.Fatalf("expected doc1 to score higher: doc1=%v doc2=%v", scores["doc1"], scores["doc2"])
	}
}

func TestBM25DeleteRemovesDocumentFromScoring(t *testing.T) {
	idx := newBM25Index()
	idx.Index("doc1", "networking socket buffer retries")
	idx.Delete("doc1")

	scores := idx.Score("networking")
	if _, ok := scores["doc1"]; ok {
		t.Fatalf("expected deleted document to be absent from scores")
	}
}

func TestBM25ReindexReplacesDocument(t *testing.T) {
	idx := newBM25Index()
	idx.Index("doc1", "alpha beta gamma")
	idx.Index("doc1", "delta epsilon zeta")

	scores := idx.Score("alpha")
	if _, ok := scores["doc1"]; ok {
		t.Fatalf("expected reindexed document to no longer match its old terms")
	}
}

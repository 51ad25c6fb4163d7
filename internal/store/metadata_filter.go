package store

import (
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/cortexmesh/core/pkg/types"
)

// MetadataFilter compiles a gojq expression once and evaluates it against a
// candidate's JSON metadata. SearchVectors does not use it directly; it
// takes a Go predicate, which a caller may build on Matches. The expression
// must evaluate to a boolean; truthy/falsy coercion follows jq's own rules
// (only `false` and `null` are falsy).
type MetadataFilter struct {
	query *gojq.Query
}

// CompileMetadataFilter parses a gojq expression like `.lang == "go"`.
func CompileMetadataFilter(expr string) (*MetadataFilter, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, types.Wrap(types.ErrInvalidInput, "parsing metadata filter", err)
	}
	return &MetadataFilter{query: q}, nil
}

// Matches evaluates the compiled expression against metadata.
func (f *MetadataFilter) Matches(metadata map[string]any) bool {
	iter := f.query.Run(metadata)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if err, isErr := v.(error); isErr {
		_ = err
		return false
	}
	switch tv := v.(type) {
	case bool:
		return tv
	case nil:
		return false
	default:
		return true
	}
}

// MatchesJSON is a convenience wrapper for callers holding raw JSON bytes
// (e.g. the entities.metadata column) rather than a decoded map.
func (f *MetadataFilter) MatchesJSON(raw []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return f.Matches(m)
}

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"

	"github.com/cortexmesh/core/pkg/types"
)

// entityRow mirrors the entities table; Metadata is the JSONB column, which
// PutEntity writes as an empty object.
type entityRow struct {
	types.Entity
	Metadata []byte `db:"metadata"`
}

// ContentHashOf returns the sha256 hex digest of content, used to make
// base==main / session==main comparisons O(1) in the merge engine.
func ContentHashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PutEntity inserts or updates an entity, recomputing its content hash.
func (s *Store) PutEntity(ctx context.Context, e *types.Entity) error {
	e.ContentHash = ContentHashOf(e.Content)
	meta, err := json.Marshal(map[string]any{})
	if err != nil {
		return types.Wrap(types.ErrIO, "marshaling entity metadata", err)
	}

	const q = `
		INSERT INTO entities (entity_id, namespace, kind, content, content_hash, version,
			qualified_name, workspace_id, tombstone, metadata, created_at, updated_at)
		VALUES (:entity_id, :namespace, :kind, :content, :content_hash, :version,
			:qualified_name, :workspace_id, :tombstone, :metadata, :created_at, :updated_at)
		ON CONFLICT (entity_id, namespace) DO UPDATE SET
			kind = EXCLUDED.kind, content = EXCLUDED.content, content_hash = EXCLUDED.content_hash,
			version = EXCLUDED.version, qualified_name = EXCLUDED.qualified_name,
			workspace_id = EXCLUDED.workspace_id, tombstone = EXCLUDED.tombstone,
			updated_at = EXCLUDED.updated_at`

	row := entityRow{Entity: *e, Metadata: meta}
	_, err = sqlx.NamedExecContext(ctx, s.queryer(ctx), q, row)
	if err != nil {
		return types.Wrap(types.ErrIO, "upserting entity", err)
	}
	return nil
}

// GetEntity fetches one entity by its compound key.
func (s *Store) GetEntity(ctx context.Context, key types.EntityKey) (*types.Entity, error) {
	const q = `SELECT entity_id, namespace, kind, content, content_hash, version,
		qualified_name, workspace_id, tombstone, created_at, updated_at
		FROM entities WHERE entity_id = $1 AND namespace = $2`

	var e types.Entity
	if err := sqlx.GetContext(ctx, s.queryer(ctx), &e, q, key.EntityID, key.Namespace); err != nil {
		if isNoRows(err) {
			return nil, types.NewError(types.ErrEntityNotFound, key.EntityID)
		}
		return nil, types.Wrap(types.ErrIO, "fetching entity", err)
	}
	return &e, nil
}

// DeleteEntity marks an entity as a tombstone rather than removing the row,
// preserving history for merge base comparisons.
func (s *Store) DeleteEntity(ctx context.Context, key types.EntityKey) error {
	const q = `UPDATE entities SET tombstone = TRUE, updated_at = now() WHERE entity_id = $1 AND namespace = $2`
	_, err := s.queryer(ctx).ExecContext(ctx, q, key.EntityID, key.Namespace)
	if err != nil {
		return types.Wrap(types.ErrIO, "deleting entity", err)
	}
	return nil
}

// PutDependencyEdge records a dependency edge, idempotently.
func (s *Store) PutDependencyEdge(ctx context.Context, e types.DependencyEdge) error {
	const q = `INSERT INTO dependency_edges (src_entity_id, dst_entity_id, kind, namespace)
		VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`
	_, err := s.queryer(ctx).ExecContext(ctx, q, e.SrcEntityID, e.DstEntityID, e.Kind, e.Namespace)
	if err != nil {
		return types.Wrap(types.ErrIO, "recording dependency edge", err)
	}
	return nil
}

// DependentsOf returns entities that depend on entityID within namespace
// (i.e. edges whose dst is entityID) — the reverse-dependency walk.
func (s *Store) DependentsOf(ctx context.Context, entityID, namespace string) ([]types.DependencyEdge, error) {
	return s.walkEdges(ctx, `SELECT src_entity_id, dst_entity_id, kind, namespace FROM dependency_edges
		WHERE dst_entity_id = $1 AND namespace = $2`, entityID, namespace)
}

// DependenciesOf returns entities that entityID depends on.
func (s *Store) DependenciesOf(ctx context.Context, entityID, namespace string) ([]types.DependencyEdge, error) {
	return s.walkEdges(ctx, `SELECT src_entity_id, dst_entity_id, kind, namespace FROM dependency_edges
		WHERE src_entity_id = $1 AND namespace = $2`, entityID, namespace)
}

func (s *Store) walkEdges(ctx context.Context, query string, args ...any) ([]types.DependencyEdge, error) {
	var edges []types.DependencyEdge
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &edges, query, args...); err != nil {
		return nil, types.Wrap(types.ErrIO, "walking dependency graph", err)
	}
	return edges, nil
}

// HasDependencyCycle reports whether walking dependency edges from start
// returns to start, using DFS coloring; it returns the cycle path in the
// [A,B,...,A] shape.
func (s *Store) HasDependencyCycle(ctx context.Context, start, namespace string) ([]string, error) {
	const white, gray, black = 0, 1, 2
	color := map[string]int{}
	var path []string
	var cycle []string

	var visit func(node string) error
	visit = func(node string) error {
		color[node] = gray
		path = append(path, node)

		edges, err := s.DependenciesOf(ctx, node, namespace)
		if err != nil {
			return err
		}
		for _, e := range edges {
			switch color[e.DstEntityID] {
			case white:
				if err := visit(e.DstEntityID); err != nil {
					return err
				}
				if cycle != nil {
					return nil
				}
			case gray:
				idx := indexOf(path, e.DstEntityID)
				cycle = append(append([]string{}, path[idx:]...), e.DstEntityID)
				return nil
			}
		}

		color[node] = black
		path = path[:len(path)-1]
		return nil
	}

	if err := visit(start); err != nil {
		return nil, err
	}
	return cycle, nil
}

func indexOf(path []string, v string) int {
	for i, p := range path {
		if p == v {
			return i
		}
	}
	return 0
}

// MatchesMetadataFilter evaluates a simple gjson path expression (e.g.
// "lang" or "tags.0") against an entity's JSON metadata blob. DependentsOf
// and DependenciesOf take no metadata filter and do not call it.
func MatchesMetadataFilter(metadataJSON []byte, path string, expect string) bool {
	return gjson.GetBytes(metadataJSON, path).String() == expect
}

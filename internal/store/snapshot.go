package store

import (
	"compress/gzip"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/cortexmesh/core/pkg/types"
)

// collection names snapshot files, one gzip+gob blob each.
const (
	collEntities = "entities"
	collSessions = "sessions"
	collChanges  = "changes"
	collLocks    = "locks"
)

// Snapshot writes the entities and sessions collections under dir as
// gzip+gob blobs, guarded by a FileLock so concurrent snapshot writers
// serialize rather than interleave. The changes and locks collections are
// not written.
func (s *Store) Snapshot(ctx context.Context, dir string) error {
	lock := NewFileLock(filepath.Join(dir, ".snapshot"))
	if err := lock.Lock(); err != nil {
		return types.Wrap(types.ErrIO, "acquiring snapshot lock", err)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Wrap(types.ErrIO, "creating snapshot directory", err)
	}

	entities, err := s.allEntities(ctx)
	if err != nil {
		return err
	}
	if err := writeBlob(filepath.Join(dir, collEntities+".gob.gz"), entities); err != nil {
		return err
	}

	sessions, err := s.allSessions(ctx)
	if err != nil {
		return err
	}
	if err := writeBlob(filepath.Join(dir, collSessions+".gob.gz"), sessions); err != nil {
		return err
	}

	return nil
}

// Restore reads the entities and sessions blobs back from dir: entities are
// upserted and sessions inserted, so a session that already exists makes
// Restore fail, and rows absent from the snapshot are left in place.
// Corrupt or truncated blobs surface as ErrCorruptSnapshot rather than a
// raw gob decode error.
func (s *Store) Restore(ctx context.Context, dir string) error {
	lock := NewFileLock(filepath.Join(dir, ".snapshot"))
	if err := lock.Lock(); err != nil {
		return types.Wrap(types.ErrIO, "acquiring snapshot lock", err)
	}
	defer lock.Unlock()

	var entities []*types.Entity
	if err := readBlob(filepath.Join(dir, collEntities+".gob.gz"), &entities); err != nil {
		return err
	}
	for _, e := range entities {
		if err := s.PutEntity(ctx, e); err != nil {
			return err
		}
	}

	var sessions []*types.Session
	if err := readBlob(filepath.Join(dir, collSessions+".gob.gz"), &sessions); err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.CreateSession(ctx, sess); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) allEntities(ctx context.Context) ([]*types.Entity, error) {
	const q = `SELECT entity_id, namespace, kind, content, content_hash, version,
		qualified_name, workspace_id, tombstone, created_at, updated_at FROM entities`
	var entities []*types.Entity
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &entities, q); err != nil {
		return nil, types.Wrap(types.ErrIO, "reading entities for snapshot", err)
	}
	return entities, nil
}

func (s *Store) allSessions(ctx context.Context) ([]*types.Session, error) {
	const q = `SELECT session_id, agent_id, isolation_level, status, created_at, expires_at FROM sessions`
	var sessions []*types.Session
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &sessions, q); err != nil {
		return nil, types.Wrap(types.ErrIO, "reading sessions for snapshot", err)
	}
	return sessions, nil
}

func writeBlob(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return types.Wrap(types.ErrIO, "creating snapshot blob", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	if err := gob.NewEncoder(gz).Encode(v); err != nil {
		return types.Wrap(types.ErrIO, "encoding snapshot blob", err)
	}
	return nil
}

func readBlob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // a never-snapshotted collection restores to empty
		}
		return types.Wrap(types.ErrIO, "opening snapshot blob", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return types.Wrap(types.ErrCorruptSnapshot, "decompressing snapshot blob", err)
	}
	defer gz.Close()

	if err := gob.NewDecoder(gz).Decode(v); err != nil {
		return types.Wrap(types.ErrCorruptSnapshot, "decoding snapshot blob", err)
	}
	return nil
}

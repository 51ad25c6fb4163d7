package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cortexmesh/core/pkg/types"
)

// PutLock persists a lock's current state. internal/lockmgr calls this
// when a lock is granted and when it is released; pending requests and the
// wait queues stay in memory only, and the lock manager does not reload
// persisted locks on restart.
func (s *Store) PutLock(ctx context.Context, l *types.Lock) error {
	const q = `INSERT INTO locks (lock_id, entity_id, entity_type, mode, holder_session,
		state, acquired_at, expires_at)
		VALUES (:lock_id, :entity_id, :entity_type, :mode, :holder_session, :state, :acquired_at, :expires_at)
		ON CONFLICT (lock_id) DO UPDATE SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at`
	_, err := sqlx.NamedExecContext(ctx, s.queryer(ctx), q, l)
	if err != nil {
		return types.Wrap(types.ErrIO, "persisting lock", err)
	}
	return nil
}

// LocksForEntity returns every currently-granted lock on entityID.
func (s *Store) LocksForEntity(ctx context.Context, entityID string) ([]*types.Lock, error) {
	const q = `SELECT lock_id, entity_id, entity_type, mode, holder_session, state, acquired_at, expires_at
		FROM locks WHERE entity_id = $1 AND state = $2`

	var locks []*types.Lock
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &locks, q, entityID, types.LockGranted); err != nil {
		return nil, types.Wrap(types.ErrIO, "listing locks for entity", err)
	}
	return locks, nil
}

// LocksForSession returns every lock held by holderSession.
func (s *Store) LocksForSession(ctx context.Context, holderSession string) ([]*types.Lock, error) {
	const q = `SELECT lock_id, entity_id, entity_type, mode, holder_session, state, acquired_at, expires_at
		FROM locks WHERE holder_session = $1 AND state = $2`

	var locks []*types.Lock
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &locks, q, holderSession, types.LockGranted); err != nil {
		return nil, types.Wrap(types.ErrIO, "listing locks for session", err)
	}
	return locks, nil
}

// AllGrantedLocks returns every lock persisted in the granted state.
func (s *Store) AllGrantedLocks(ctx context.Context) ([]*types.Lock, error) {
	const q = `SELECT lock_id, entity_id, entity_type, mode, holder_session, state, acquired_at, expires_at
		FROM locks WHERE state = $1`

	var locks []*types.Lock
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &locks, q, types.LockGranted); err != nil {
		return nil, types.Wrap(types.ErrIO, "listing granted locks", err)
	}
	return locks, nil
}

// PutConflict persists one unresolved or resolved merge conflict.
func (s *Store) PutConflict(ctx context.Context, sessionID string, c *types.Conflict) error {
	const q = `INSERT INTO conflicts (conflict_id, session_id, entity_id, kind, file_path,
		base_version, session_version, main_version, dependency_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (conflict_id) DO NOTHING`
	_, err := s.queryer(ctx).ExecContext(ctx, q, c.ConflictID, sessionID, c.EntityID, c.Kind, c.FilePath,
		c.BaseVersion, c.SessionVersion, c.MainVersion, pqStringArray(c.DependencyPath))
	if err != nil {
		return types.Wrap(types.ErrIO, "persisting conflict", err)
	}
	return nil
}

// pqStringArray renders a []string as a JSON array for the dependency_path
// jsonb column (kept simple rather than pulling in pq.Array's text[] format,
// since the column is JSONB not text[]).
func pqStringArray(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	out := "["
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "]"
}

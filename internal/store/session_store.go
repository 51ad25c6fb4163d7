package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cortexmesh/core/pkg/types"
)

// CreateSession persists a new session row. It implements
// internal/session.Store.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	const q = `INSERT INTO sessions (session_id, agent_id, isolation_level, status, created_at, expires_at)
		VALUES (:session_id, :agent_id, :isolation_level, :status, :created_at, :expires_at)`
	_, err := sqlx.NamedExecContext(ctx, s.queryer(ctx), q, sess)
	if err != nil {
		return types.Wrap(types.ErrIO, "inserting session", err)
	}
	return nil
}

// GetSession fetches a session by ID. TouchedEntityKinds is reconstructed
// from the changes table rather than persisted redundantly.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	const q = `SELECT session_id, agent_id, isolation_level, status, created_at, expires_at
		FROM sessions WHERE session_id = $1`

	var sess types.Session
	if err := sqlx.GetContext(ctx, s.queryer(ctx), &sess, q, sessionID); err != nil {
		if isNoRows(err) {
			return nil, types.NewError(types.ErrSessionNotFound, sessionID)
		}
		return nil, types.Wrap(types.ErrIO, "fetching session", err)
	}

	touched, err := s.touchedEntityKinds(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.TouchedEntityKinds = touched
	return &sess, nil
}

// UpdateSession persists status/expiry changes.
func (s *Store) UpdateSession(ctx context.Context, sess *types.Session) error {
	const q = `UPDATE sessions SET status = :status, expires_at = :expires_at WHERE session_id = :session_id`
	_, err := sqlx.NamedExecContext(ctx, s.queryer(ctx), q, sess)
	if err != nil {
		return types.Wrap(types.ErrIO, "updating session", err)
	}
	return nil
}

// ListActiveSessions returns every session currently in SessionActive.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	const q = `SELECT session_id, agent_id, isolation_level, status, created_at, expires_at
		FROM sessions WHERE status = $1`

	var sessions []*types.Session
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &sessions, q, types.SessionActive); err != nil {
		return nil, types.Wrap(types.ErrIO, "listing active sessions", err)
	}
	return sessions, nil
}

// RecordChange appends one change-journal entry.
func (s *Store) RecordChange(ctx context.Context, c *types.Change) error {
	const q = `INSERT INTO changes (change_id, session_id, entity_id, entity_type, op,
		base_version, base_content, new_content, timestamp, agent_id)
		VALUES (:change_id, :session_id, :entity_id, :entity_type, :op,
		:base_version, :base_content, :new_content, :timestamp, :agent_id)`
	_, err := sqlx.NamedExecContext(ctx, s.queryer(ctx), q, c)
	if err != nil {
		return types.Wrap(types.ErrIO, "recording change", err)
	}
	return nil
}

// FindSessionChanges returns every change recorded for sessionID, ordered
// by (timestamp, change_id) at the SQL layer already; session.Service
// re-sorts defensively for backends that don't guarantee it.
func (s *Store) FindSessionChanges(ctx context.Context, sessionID string) ([]*types.Change, error) {
	const q = `SELECT change_id, session_id, entity_id, entity_type, op, base_version,
		base_content, new_content, timestamp, agent_id FROM changes
		WHERE session_id = $1 ORDER BY timestamp ASC, change_id ASC`

	var changes []*types.Change
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &changes, q, sessionID); err != nil {
		return nil, types.Wrap(types.ErrIO, "finding session changes", err)
	}
	return changes, nil
}

func (s *Store) touchedEntityKinds(ctx context.Context, sessionID string) (map[types.EntityKind]int, error) {
	const q = `SELECT entity_type, COUNT(*) AS n FROM changes WHERE session_id = $1 GROUP BY entity_type`

	rows := []struct {
		EntityType types.EntityKind `db:"entity_type"`
		N          int              `db:"n"`
	}{}
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &rows, q, sessionID); err != nil {
		return nil, types.Wrap(types.ErrIO, "summarizing touched entity kinds", err)
	}

	out := make(map[types.EntityKind]int, len(rows))
	for _, r := range rows {
		out[r.EntityType] = r.N
	}
	return out, nil
}

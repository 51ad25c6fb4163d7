// Package lockmgr implements the Lock Manager: per-entity
// wait queues with FIFO-and-write-preference-at-head ordering, Tarjan's SCC
// deadlock detection over a periodically rebuilt wait-for graph, and
// victim selection by fewest held locks (tie-break latest created_at).
package lockmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexmesh/core/internal/event"
	"github.com/cortexmesh/core/internal/ids"
	"github.com/cortexmesh/core/internal/logging"
	"github.com/cortexmesh/core/pkg/types"
)

// log returns the lock manager's component-tagged logger, read fresh each
// call so a later logging.Init reconfiguration takes effect immediately.
func log() zerolog.Logger {
	return logging.For(logging.ComponentLock)
}

// Store is the persistence surface the Lock Manager needs; internal/store
// implements it.
type Store interface {
	PutLock(ctx context.Context, l *types.Lock) error
	LocksForEntity(ctx context.Context, entityID string) ([]*types.Lock, error)
	LocksForSession(ctx context.Context, holderSession string) ([]*types.Lock, error)
}

type waiter struct {
	req       types.LockAcquireRequest
	lock      *types.Lock
	grantedCh chan struct{}
}

type entityState struct {
	held    []*types.Lock // currently granted locks on this entity
	waiters []*waiter
}

// Manager is the Lock Manager.
type Manager struct {
	store Store

	mu       sync.Mutex
	entities map[string]*entityState  // entityID -> state
	byLockID map[string]*types.Lock   // lockID -> lock, for O(1) release lookup
	lockEntity map[string]string      // lockID -> entityID

	detectionInterval time.Duration
	stopCh             chan struct{}
	stopOnce           sync.Once
}

// New creates a Lock Manager backed by store.
func New(store Store, detectionInterval time.Duration) *Manager {
	if detectionInterval <= 0 {
		detectionInterval = 100 * time.Millisecond
	}
	return &Manager{
		store:              store,
		entities:           map[string]*entityState{},
		byLockID:           map[string]*types.Lock{},
		lockEntity:         map[string]string{},
		detectionInterval:  detectionInterval,
		stopCh:             make(chan struct{}),
	}
}

// Acquire requests a lock, blocking until granted, the request times out,
// or ctx is canceled. It returns (result, nil) once the lock is granted, an
// ErrTimeout error when the wait times out or ctx is canceled, and an
// ErrDeadlock error when the deadlock detector revokes this pending request.
func (m *Manager) Acquire(ctx context.Context, req types.LockAcquireRequest) (*types.LockAcquireResult, error) {
	m.mu.Lock()

	st, ok := m.entities[req.EntityID]
	if !ok {
		st = &entityState{}
		m.entities[req.EntityID] = st
	}

	if m.canGrantLocked(st, req.Mode) {
		lock := m.grantLocked(req)
		m.mu.Unlock()
		m.persistAndPublish(ctx, lock)
		return &types.LockAcquireResult{LockID: lock.LockID, Acquired: true, ExpiresAt: lock.ExpiresAt}, nil
	}

	w := &waiter{req: req, grantedCh: make(chan struct{}, 1)}
	m.enqueueLocked(st, w)
	m.mu.Unlock()

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.grantedCh:
		if w.lock == nil {
			return nil, types.NewError(types.ErrDeadlock, "selected as deadlock victim")
		}
		m.persistAndPublish(ctx, w.lock)
		return &types.LockAcquireResult{LockID: w.lock.LockID, Acquired: true, ExpiresAt: w.lock.ExpiresAt}, nil
	case <-ctx.Done():
		m.removeWaiter(req.EntityID, w)
		return nil, types.Wrap(types.ErrTimeout, "lock acquisition canceled", ctx.Err())
	case <-timer.C:
		m.removeWaiter(req.EntityID, w)
		log().Debug().Str("session_id", req.SessionID).Str("entity_id", req.EntityID).Msg("lock acquisition timed out")
		return nil, types.NewError(types.ErrTimeout, "lock acquisition timed out")
	}
}

// canGrantLocked reports whether `mode` is compatible with every lock
// currently held on st, per types.Compatible's matrix.
func (m *Manager) canGrantLocked(st *entityState, mode types.LockMode) bool {
	if len(st.waiters) > 0 {
		// Write-preference-at-head: a new request may not jump a write
		// waiter already queued, even if it would otherwise be compatible.
		return false
	}
	for _, held := range st.held {
		if !types.Compatible(held.Mode, mode) {
			return false
		}
	}
	return true
}

func (m *Manager) grantLocked(req types.LockAcquireRequest) *types.Lock {
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	lock := &types.Lock{
		LockID:        ids.NewULID(),
		EntityID:      req.EntityID,
		EntityType:    req.EntityType,
		Mode:          req.Mode,
		HolderSession: req.SessionID,
		State:         types.LockGranted,
		AcquiredAt:    time.Now(),
		ExpiresAt:     time.Now().Add(timeout),
		Metadata:      req.Metadata,
	}
	st := m.entities[req.EntityID]
	st.held = append(st.held, lock)
	m.byLockID[lock.LockID] = lock
	m.lockEntity[lock.LockID] = req.EntityID
	return lock
}

func (m *Manager) enqueueLocked(st *entityState, w *waiter) {
	st.waiters = append(st.waiters, w)
}

func (m *Manager) removeWaiter(entityID string, target *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entities[entityID]
	if !ok {
		return
	}
	for i, w := range st.waiters {
		if w == target {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			return
		}
	}
}

func (m *Manager) persistAndPublish(ctx context.Context, lock *types.Lock) {
	_ = m.store.PutLock(ctx, lock)
	event.PublishLockGranted(lock)
}

// Release releases a lock. Releasing an unknown or already-released lock
// returns {released:false} with no error — a caller holding a stale
// reference gets a visible signal rather than a silent success.
func (m *Manager) Release(ctx context.Context, lockID string) (*types.LockReleaseResult, error) {
	m.mu.Lock()

	lock, ok := m.byLockID[lockID]
	if !ok || lock.State != types.LockGranted {
		m.mu.Unlock()
		return &types.LockReleaseResult{Released: false}, nil
	}

	entityID := m.lockEntity[lockID]
	st := m.entities[entityID]

	for i, held := range st.held {
		if held.LockID == lockID {
			st.held = append(st.held[:i], st.held[i+1:]...)
			break
		}
	}
	lock.State = types.LockReleased
	delete(m.byLockID, lockID)
	delete(m.lockEntity, lockID)

	promoted := m.promoteWaitersLocked(st)
	m.mu.Unlock()

	_ = m.store.PutLock(ctx, lock)
	event.PublishLockReleased(lockID, entityID)
	for _, p := range promoted {
		m.persistAndPublish(ctx, p)
	}

	return &types.LockReleaseResult{Released: true}, nil
}

// promoteWaitersLocked grants as many queued waiters as are now compatible,
// in FIFO order, notifying each granted waiter's goroutine. Caller holds
// m.mu.
func (m *Manager) promoteWaitersLocked(st *entityState) []*types.Lock {
	var granted []*types.Lock
	for len(st.waiters) > 0 {
		w := st.waiters[0]
		if !m.canGrantIgnoringQueueLocked(st, w.req.Mode) {
			break
		}
		st.waiters = st.waiters[1:]
		lock := m.grantLocked(w.req)
		w.lock = lock
		w.grantedCh <- struct{}{}
		granted = append(granted, lock)
	}
	return granted
}

func (m *Manager) canGrantIgnoringQueueLocked(st *entityState, mode types.LockMode) bool {
	for _, held := range st.held {
		if !types.Compatible(held.Mode, mode) {
			return false
		}
	}
	return true
}

// ListSession returns every lock currently held by sessionID.
func (m *Manager) ListSession(ctx context.Context, sessionID string) ([]*types.Lock, error) {
	return m.store.LocksForSession(ctx, sessionID)
}

// ListEntity returns every lock currently held on entityID.
func (m *Manager) ListEntity(ctx context.Context, entityID string) ([]*types.Lock, error) {
	return m.store.LocksForEntity(ctx, entityID)
}

// IsLocked reports whether entityID currently has any granted lock.
func (m *Manager) IsLocked(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entities[entityID]
	return ok && len(st.held) > 0
}

// ListAll returns a snapshot of every currently-granted lock, across all
// entities.
func (m *Manager) ListAll() []*types.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lock
	for _, st := range m.entities {
		out = append(out, st.held...)
	}
	return out
}

// StartDeadlockDetector runs the periodic Tarjan's-SCC detection loop on a
// ticker, the same shape as internal/session.Service.StartExpirySweep.
func (m *Manager) StartDeadlockDetector(ctx context.Context) {
	ticker := time.NewTicker(m.detectionInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.detectAndResolveDeadlocks(ctx)
			}
		}
	}()
}

// Stop halts the deadlock detector goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) detectAndResolveDeadlocks(ctx context.Context) {
	m.mu.Lock()
	graph := m.buildWaitForGraphLocked()
	m.mu.Unlock()

	cycles := tarjanSCCCycles(graph)
	for _, cycle := range cycles {
		m.resolveDeadlock(ctx, cycle)
	}
}

// buildWaitForGraphLocked returns an adjacency map session -> sessions it
// is waiting on, derived from each entity's held locks and waiter list.
// Caller holds m.mu.
func (m *Manager) buildWaitForGraphLocked() map[string][]string {
	graph := map[string][]string{}
	for _, st := range m.entities {
		holders := map[string]bool{}
		for _, h := range st.held {
			holders[h.HolderSession] = true
		}
		for _, w := range st.waiters {
			for holder := range holders {
				if holder == w.req.SessionID {
					continue
				}
				graph[w.req.SessionID] = append(graph[w.req.SessionID], holder)
			}
		}
	}
	return graph
}

// resolveDeadlock picks a victim from cycle (fewest held locks, tie-break
// latest created_at among its locks) and aborts its pending waiter entries
// with ErrDeadlock, breaking the cycle. It never releases locks the victim
// already holds -- those were granted before the cycle formed and stay
// granted; only the request that's still blocked gets failed.
func (m *Manager) resolveDeadlock(ctx context.Context, cycle []string) {
	m.mu.Lock()

	type candidate struct {
		sessionID string
		heldCount int
		latest    time.Time
	}
	var candidates []candidate
	for _, sessionID := range cycle {
		held := 0
		var latest time.Time
		for _, st := range m.entities {
			for _, l := range st.held {
				if l.HolderSession == sessionID {
					held++
					if l.AcquiredAt.After(latest) {
						latest = l.AcquiredAt
					}
				}
			}
		}
		candidates = append(candidates, candidate{sessionID, held, latest})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].heldCount != candidates[j].heldCount {
			return candidates[i].heldCount < candidates[j].heldCount
		}
		return candidates[i].latest.After(candidates[j].latest)
	})
	victim := candidates[0].sessionID
	log().Warn().Strs("cycle", cycle).Str("victim", victim).Msg("deadlock detected")

	for _, st := range m.entities {
		for i := 0; i < len(st.waiters); {
			w := st.waiters[i]
			if w.req.SessionID == victim {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				w.grantedCh <- struct{}{} // w.lock stays nil -> caller sees ErrDeadlock
				continue
			}
			i++
		}
	}
	m.mu.Unlock()

	event.PublishDeadlockDetected(victim, cycle)
}

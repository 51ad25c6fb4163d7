package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/core/pkg/types"
)

type memLockStore struct {
	mu    sync.Mutex
	locks map[string]*types.Lock
}

func newMemLockStore() *memLockStore {
	return &memLockStore{locks: map[string]*types.Lock{}}
}

func (m *memLockStore) PutLock(_ context.Context, l *types.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.locks[l.LockID] = &cp
	return nil
}

func (m *memLockStore) LocksForEntity(_ context.Context, entityID string) ([]*types.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lock
	for _, l := range m.locks {
		if l.EntityID == entityID && l.State == types.LockGranted {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLockStore) LocksForSession(_ context.Context, sessionID string) ([]*types.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lock
	for _, l := range m.locks {
		if l.HolderSession == sessionID && l.State == types.LockGranted {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestAcquireUncontendedGrantsImmediately(t *testing.T) {
	m := New(newMemLockStore(), 50*time.Millisecond)
	ctx := context.Background()

	res, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s1", EntityID: "e1", Mode: types.LockRead, TimeoutSeconds: 1})
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.True(t, m.IsLocked("e1"))
}

func TestAcquireIncompatibleBlocksUntilRelease(t *testing.T) {
	m := New(newMemLockStore(), 50*time.Millisecond)
	ctx := context.Background()

	res1, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s1", EntityID: "e1", Mode: types.LockWrite, TimeoutSeconds: 5})
	require.NoError(t, err)

	done := make(chan *types.LockAcquireResult, 1)
	go func() {
		res2, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s2", EntityID: "e1", Mode: types.LockWrite, TimeoutSeconds: 5})
		require.NoError(t, err)
		done <- res2
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second acquire should still be blocked")
	default:
	}

	_, err = m.Release(ctx, res1.LockID)
	require.NoError(t, err)

	select {
	case res2 := <-done:
		assert.True(t, res2.Acquired)
	case <-time.After(time.Second):
		t.Fatal("second acquire never resolved after release")
	}
}

func TestAcquireTimesOutWhenNeverGranted(t *testing.T) {
	m := New(newMemLockStore(), 50*time.Millisecond)
	ctx := context.Background()

	_, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s1", EntityID: "e1", Mode: types.LockWrite, TimeoutSeconds: 10})
	require.NoError(t, err)

	ctxShort, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctxShort, types.LockAcquireRequest{SessionID: "s3", EntityID: "e1", Mode: types.LockWrite})
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrTimeout, kind)
}

func TestReleaseUnknownLockReturnsFalseNotError(t *testing.T) {
	m := New(newMemLockStore(), 50*time.Millisecond)
	res, err := m.Release(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, res.Released)
}

func TestDeadlockPairResolvesOneVictim(t *testing.T) {
	m := New(newMemLockStore(), 20*time.Millisecond)
	ctx := context.Background()
	detectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.StartDeadlockDetector(detectCtx)
	defer m.Stop()

	// s1 holds A, wants B. s2 holds B, wants A. Classic deadlock pair.
	res1, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s1", EntityID: "A", Mode: types.LockWrite, TimeoutSeconds: 5})
	require.NoError(t, err)
	res2, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s2", EntityID: "B", Mode: types.LockWrite, TimeoutSeconds: 5})
	require.NoError(t, err)

	type outcome struct {
		sessionID string
		err       error
		held      []*types.Lock // locks the session held when its request ended
		heldErr   error
	}
	// A victim keeps what it holds; like an agent aborting, it then releases
	// its held lock so the other session's pending request can be granted.
	finish := func(sessionID, heldLockID string, err error) outcome {
		held, heldErr := m.ListSession(ctx, sessionID)
		if err != nil {
			_, _ = m.Release(ctx, heldLockID)
		}
		return outcome{sessionID, err, held, heldErr}
	}
	var wg sync.WaitGroup
	results := make(chan outcome, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s1", EntityID: "B", Mode: types.LockWrite, TimeoutSeconds: 5})
		results <- finish("s1", res1.LockID, err)
	}()
	go func() {
		defer wg.Done()
		_, err := m.Acquire(ctx, types.LockAcquireRequest{SessionID: "s2", EntityID: "A", Mode: types.LockWrite, TimeoutSeconds: 5})
		results <- finish("s2", res2.LockID, err)
	}()

	wg.Wait()
	close(results)

	var deadlockErrs, successes int
	var victim string
	var victimHeld []*types.Lock
	var victimHeldErr error
	for o := range results {
		if o.err == nil {
			successes++
			continue
		}
		kind, ok := types.KindOf(o.err)
		require.True(t, ok)
		assert.Equal(t, types.ErrDeadlock, kind)
		deadlockErrs++
		victim = o.sessionID
		victimHeld, victimHeldErr = o.held, o.heldErr
	}

	assert.Equal(t, 1, deadlockErrs)
	assert.Equal(t, 1, successes)

	// The victim's pending request fails, but its already-held lock (A for
	// s1, B for s2) must survive deadlock resolution untouched.
	require.NotEmpty(t, victim)
	require.NoError(t, victimHeldErr)
	require.Len(t, victimHeld, 1)
	if victim == "s1" {
		assert.Equal(t, "A", victimHeld[0].EntityID)
	} else {
		assert.Equal(t, "B", victimHeld[0].EntityID)
	}

	_ = res1
	_ = res2
}

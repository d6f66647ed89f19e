package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"avatar-studio/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(locker Locker) *Tracker {
	return NewTracker(logging.Discard(), nil, locker)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestTrackerCallsDoneOnce(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	var doneCalls int32
	finished := make(chan struct{})
	var calls int32
	fetch := scripted(&calls,
		Status[string]{State: StatePending},
		Status[string]{State: StateSucceeded, Result: "url"},
	)

	err := Start(tr, "job-1", fetch, fastConfig(), func(res Result[string]) {
		atomic.AddInt32(&doneCalls, 1)
		assert.Equal(t, "url", res.Value)
		close(finished)
	})
	require.NoError(t, err)
	waitFor(t, finished)

	// Extra time in which a leaked tick would call fetch again.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&doneCalls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Eventually(t, func() bool { return !tr.Active("job-1") }, time.Second, time.Millisecond)
}

func TestTrackerRejectsDuplicateJob(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	var calls int32
	pending := scripted(&calls, Status[string]{State: StatePending})
	require.NoError(t, Start(tr, "job", pending, fastConfig(), nil))

	err := Start(tr, "job", pending, fastConfig(), nil)
	assert.ErrorIs(t, err, ErrAlreadyPolling)
	assert.Equal(t, 1, tr.Len())
}

func TestTrackerCancelStopsPolling(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	var calls int32
	finished := make(chan struct{})
	var got Result[string]
	err := Start(tr, "job", scripted(&calls, Status[string]{State: StatePending}), fastConfig(), func(res Result[string]) {
		got = res
		close(finished)
	})
	require.NoError(t, err)

	assert.True(t, tr.Cancel("job"))
	waitFor(t, finished)
	assert.Equal(t, StateCanceled, got.State)

	stopped := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&calls))
	assert.False(t, tr.Cancel("job"))
}

func TestTrackerCloseCancelsAll(t *testing.T) {
	tr := newTestTracker(nil)

	var wg sync.WaitGroup
	var canceled int32
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		var calls int32
		err := Start(tr, id, scripted(&calls, Status[string]{State: StatePending}), fastConfig(), func(res Result[string]) {
			defer wg.Done()
			if res.State == StateCanceled {
				atomic.AddInt32(&canceled, 1)
			}
		})
		require.NoError(t, err)
	}

	tr.Close()
	wg.Wait()
	assert.EqualValues(t, 3, atomic.LoadInt32(&canceled))

	var calls int32
	err := Start(tr, "late", scripted(&calls, Status[string]{State: StatePending}), fastConfig(), nil)
	assert.ErrorIs(t, err, ErrTrackerClosed)
}

type stubLocker struct {
	mu        sync.Mutex
	held      map[string]bool
	released  []string
	refreshes int
	ttls      []time.Duration
}

func (l *stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttls = append(l.ttls, ttl)
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *stubLocker) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return l.held[key], nil
}

func (l *stubLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

func TestTrackerHonoursLocker(t *testing.T) {
	locker := &stubLocker{held: map[string]bool{"poll:taken": true}}
	tr := newTestTracker(locker)
	defer tr.Close()

	var calls int32
	err := Start(tr, "taken", scripted(&calls, Status[string]{State: StateSucceeded}), fastConfig(), nil)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NotErrorIs(t, err, ErrAlreadyPolling)
	assert.False(t, tr.Active("taken"))

	finished := make(chan struct{})
	err = Start(tr, "free", scripted(&calls, Status[string]{State: StateSucceeded}), fastConfig(), func(Result[string]) {
		close(finished)
	})
	require.NoError(t, err)
	waitFor(t, finished)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Contains(t, locker.released, "poll:free")
}

func TestTrackerRefreshesShortLock(t *testing.T) {
	locker := &stubLocker{held: map[string]bool{}}
	tr := newTestTracker(locker)
	tr.minLockTTL = 15 * time.Millisecond
	defer tr.Close()

	var calls int32
	finished := make(chan struct{})
	fetch := func(ctx context.Context, jobID string) (Status[string], error) {
		if atomic.AddInt32(&calls, 1) < 40 {
			return Status[string]{State: StatePending}, nil
		}
		return Status[string]{State: StateSucceeded, Result: "done"}, nil
	}
	err := Start(tr, "long", fetch, fastConfig(), func(Result[string]) { close(finished) })
	require.NoError(t, err)
	waitFor(t, finished)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	require.Len(t, locker.ttls, 1)
	assert.Equal(t, 15*time.Millisecond, locker.ttls[0])
	assert.Positive(t, locker.refreshes)
	assert.False(t, locker.held["poll:long"])
}

func TestTrackerLockTTLFollowsInterval(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	assert.Equal(t, defaultMinLockTTL, tr.lockTTL(fastConfig()))
	assert.Equal(t, 4*time.Minute, tr.lockTTL(Config{Interval: time.Minute}))
}

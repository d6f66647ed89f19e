package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns a FetchFunc replaying statuses in order and repeating the
// last one once exhausted.
func scripted(calls *int32, statuses ...Status[string]) FetchFunc[string] {
	return func(ctx context.Context, jobID string) (Status[string], error) {
		n := int(atomic.AddInt32(calls, 1))
		if n > len(statuses) {
			return statuses[len(statuses)-1], nil
		}
		return statuses[n-1], nil
	}
}

func fastConfig() Config {
	return Config{Kind: "test", Interval: time.Millisecond}
}

func TestPollStopsOnSuccess(t *testing.T) {
	var calls int32
	fetch := scripted(&calls,
		Status[string]{State: StatePending},
		Status[string]{State: StatePending},
		Status[string]{State: StateSucceeded, Result: "https://cdn/video.mp4"},
	)

	res := Poll(context.Background(), "job-1", fetch, fastConfig())

	require.NoError(t, res.Err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "https://cdn/video.mp4", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPollStopsOnFailureWithMessage(t *testing.T) {
	var calls int32
	fetch := scripted(&calls,
		Status[string]{State: StatePending},
		Status[string]{State: StateFailed, Error: "avatar not found"},
	)

	res := Poll(context.Background(), "job-2", fetch, fastConfig())

	assert.Equal(t, StateFailed, res.State)
	var jobErr *JobFailedError
	require.ErrorAs(t, res.Err, &jobErr)
	assert.Equal(t, "avatar not found", jobErr.Message)
	assert.Equal(t, "job-2", jobErr.JobID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPollBoundedNeverExceedsMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 3, 20} {
		var calls int32
		cfg := fastConfig()
		cfg.MaxAttempts = max

		res := Poll(context.Background(), "job", scripted(&calls, Status[string]{State: StatePending}), cfg)

		assert.Equal(t, StateTimedOut, res.State)
		assert.ErrorIs(t, res.Err, ErrTimedOut)
		assert.Equal(t, max, res.Attempts)
		assert.EqualValues(t, max, atomic.LoadInt32(&calls), "max=%d", max)
	}
}

func TestPollSuccessOnLastAllowedAttempt(t *testing.T) {
	var calls int32
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	fetch := scripted(&calls,
		Status[string]{State: StatePending},
		Status[string]{State: StateSucceeded, Result: "ok"},
	)

	res := Poll(context.Background(), "job", fetch, cfg)

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
}

func TestPollTransportErrorIsDistinctFromJobFailure(t *testing.T) {
	boom := errors.New("connection reset")
	fetch := func(ctx context.Context, jobID string) (Status[string], error) {
		return Status[string]{}, boom
	}

	res := Poll(context.Background(), "job-3", fetch, fastConfig())

	assert.Equal(t, StateFailed, res.State)
	var transportErr *TransportError
	require.ErrorAs(t, res.Err, &transportErr)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 1, transportErr.Attempt)

	var jobErr *JobFailedError
	assert.False(t, errors.As(res.Err, &jobErr))
}

func TestPollToleratesConfiguredTransportRetries(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, jobID string) (Status[string], error) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			return Status[string]{}, errors.New("timeout")
		}
		return Status[string]{State: StateSucceeded, Result: "done"}, nil
	}
	cfg := fastConfig()
	cfg.TransportRetries = 2

	res := Poll(context.Background(), "job", fetch, cfg)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
}

func TestPollCanceledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	fetch := func(ctx context.Context, jobID string) (Status[string], error) {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return Status[string]{State: StatePending}, nil
	}

	res := Poll(ctx, "job", fetch, fastConfig())

	assert.Equal(t, StateCanceled, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPollUnknownStateKeepsPolling(t *testing.T) {
	var calls int32
	fetch := scripted(&calls,
		Status[string]{State: "processing"},
		Status[string]{State: StateSucceeded},
	)

	res := Poll(context.Background(), "job", fetch, fastConfig())

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 2, res.Attempts)
}

func TestPollOnPendingHook(t *testing.T) {
	var calls int32
	var seen []int
	cfg := fastConfig()
	cfg.OnPending = func(attempt int) { seen = append(seen, attempt) }

	Poll(context.Background(), "job", scripted(&calls,
		Status[string]{State: StatePending},
		Status[string]{State: StatePending},
		Status[string]{State: StateSucceeded},
	), cfg)

	assert.Equal(t, []int{1, 2}, seen)
}

func TestPollRespectsInterval(t *testing.T) {
	var calls int32
	cfg := Config{Interval: 20 * time.Millisecond}
	start := time.Now()

	Poll(context.Background(), "job", scripted(&calls,
		Status[string]{State: StatePending},
		Status[string]{State: StatePending},
		Status[string]{State: StateSucceeded},
	), cfg)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, State("").Terminal())
	for _, s := range []State{StateSucceeded, StateFailed, StateTimedOut, StateCanceled} {
		assert.True(t, s.Terminal(), string(s))
	}
}

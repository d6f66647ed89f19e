package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"avatar-studio/internal/metrics"
)

// ErrAlreadyPolling is returned when a poll for the same job id is running.
var ErrAlreadyPolling = errors.New("job is already being polled")

// ErrLockHeld is returned when another process holds the poll lock for a job.
var ErrLockHeld = errors.New("job is polled by another process")

// ErrTrackerClosed is returned by Start after Close.
var ErrTrackerClosed = errors.New("poll tracker closed")

// Locker guards a job id across processes. Locks expire after ttl unless
// refreshed, so a crashed holder does not block a job for long.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const defaultMinLockTTL = 30 * time.Second

// Tracker runs polls in the background, at most one per job id, and cancels
// them on demand or on Close.
type Tracker struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	locker  Locker
	// minLockTTL bounds the lock lifetime from below; polls with longer
	// intervals get a few intervals of slack.
	minLockTTL time.Duration

	mu     sync.Mutex
	jobs   map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTracker creates a tracker. locker may be nil.
func NewTracker(logger *slog.Logger, m *metrics.Metrics, locker Locker) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		logger:  logger.With("component", "poller"),
		metrics: m,
		locker:  locker,
		jobs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,

		minLockTTL: defaultMinLockTTL,
	}
}

// Start polls jobID in the background and calls done exactly once with the
// outcome, including StateCanceled when the poll is cancelled.
func Start[T any](t *Tracker, jobID string, fetch FetchFunc[T], cfg Config, done func(Result[T])) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	if _, ok := t.jobs[jobID]; ok {
		t.mu.Unlock()
		return ErrAlreadyPolling
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.jobs[jobID] = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	ttl := t.lockTTL(cfg)
	locked := false
	if t.locker != nil {
		ok, err := t.locker.Acquire(ctx, lockKey(jobID), ttl)
		switch {
		case err != nil:
			t.logger.Warn("poll lock unavailable, polling locally", "job_id", jobID, "error", err)
		case !ok:
			t.forget(jobID)
			cancel()
			t.wg.Done()
			return ErrLockHeld
		default:
			locked = true
		}
	}

	logger := t.logger.With("job_id", jobID, "kind", cfg.Kind)
	logger.Debug("poll started")
	t.metrics.PollStarted()

	go func() {
		defer t.wg.Done()
		defer cancel()
		defer t.metrics.PollFinished()

		var stopRefresh func()
		if locked {
			stopRefresh = t.keepLock(ctx, jobID, ttl, logger)
		}
		res := Poll(ctx, jobID, fetch, cfg)
		defer t.forget(jobID)

		if locked {
			stopRefresh()
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = t.locker.Release(releaseCtx, lockKey(jobID))
			releaseCancel()
		}

		t.metrics.ObservePoll(cfg.Kind, string(res.State), res.Attempts)
		if res.Err != nil && res.State != StateCanceled {
			logger.Warn("poll finished without success", "state", res.State, "attempts", res.Attempts, "error", res.Err)
		} else {
			logger.Debug("poll finished", "state", res.State, "attempts", res.Attempts)
		}

		if done != nil {
			done(res)
		}
	}()
	return nil
}

// Active reports whether jobID is being polled by this tracker.
func (t *Tracker) Active(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[jobID]
	return ok
}

// Len returns the number of polls in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Cancel stops the poll for jobID. It reports whether one was running.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	cancel, ok := t.jobs[jobID]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close cancels every poll and waits for their callbacks to return.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) forget(jobID string) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

func (t *Tracker) lockTTL(cfg Config) time.Duration {
	ttl := 4 * cfg.interval()
	if ttl < t.minLockTTL {
		ttl = t.minLockTTL
	}
	return ttl
}

// keepLock refreshes the job lock every third of its ttl until the returned
// stop func is called.
func (t *Tracker) keepLock(ctx context.Context, jobID string, ttl time.Duration, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := t.locker.Refresh(ctx, lockKey(jobID), ttl)
				switch {
				case err != nil && ctx.Err() == nil:
					logger.Warn("refresh poll lock failed", "error", err)
				case err == nil && !ok:
					logger.Warn("poll lock lost")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}
}

func lockKey(jobID string) string {
	return fmt.Sprintf("poll:%s", jobID)
}

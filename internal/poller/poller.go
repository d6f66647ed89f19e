// Package poller waits on asynchronous third-party jobs by re-checking their
// status at a fixed interval until a terminal state is reached.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = 5 * time.Second

// State is the lifecycle state of a polled job.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCanceled  State = "canceled"
)

// Terminal reports whether polling stops at s.
func (s State) Terminal() bool {
	return s != StatePending && s != ""
}

// Status is one observation returned by a status endpoint. Any state other
// than succeeded or failed is treated as pending.
type Status[T any] struct {
	State  State
	Result T
	Error  string
}

// FetchFunc queries the status endpoint once.
type FetchFunc[T any] func(ctx context.Context, jobID string) (Status[T], error)

// Config controls a single poll.
type Config struct {
	// Kind labels logs and metrics ("video", "look", ...).
	Kind     string
	Interval time.Duration
	// MaxAttempts bounds the number of status requests; zero or less polls
	// until a terminal state or cancellation.
	MaxAttempts int
	// TransportRetries is the number of consecutive fetch errors tolerated
	// before the poll ends with a TransportError. Zero fails on the first.
	TransportRetries int
	// OnPending is invoked after every pending observation.
	OnPending func(attempt int)
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

// Result is the terminal outcome of a poll.
type Result[T any] struct {
	JobID    string
	State    State
	Value    T
	Attempts int
	// Err is nil only when State is StateSucceeded.
	Err error
}

// ErrTimedOut is returned once a bounded poll exhausts its attempts.
var ErrTimedOut = errors.New("job polling timed out")

// JobFailedError means the upstream service reported the job as failed.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// TransportError means the status request itself failed.
type TransportError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("poll job %s (attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Poll blocks until the job reaches a terminal state, the attempt budget is
// spent or ctx is done. The first status request is issued immediately; each
// following one is scheduled only after the previous response was handled.
func Poll[T any](ctx context.Context, jobID string, fetch FetchFunc[T], cfg Config) Result[T] {
	interval := cfg.interval()
	res := Result[T]{JobID: jobID}

	timer := time.NewTimer(0)
	defer timer.Stop()

	transportFailures := 0
	for {
		select {
		case <-ctx.Done():
			res.State = StateCanceled
			res.Err = ctx.Err()
			return res
		case <-timer.C:
		}

		res.Attempts++
		status, err := fetch(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				res.State = StateCanceled
				res.Err = ctx.Err()
				return res
			}
			transportFailures++
			if transportFailures > cfg.TransportRetries {
				res.State = StateFailed
				res.Err = &TransportError{JobID: jobID, Attempt: res.Attempts, Err: err}
				return res
			}
		} else {
			transportFailures = 0
			switch status.State {
			case StateSucceeded:
				res.State = StateSucceeded
				res.Value = status.Result
				return res
			case StateFailed:
				res.State = StateFailed
				res.Value = status.Result
				res.Err = &JobFailedError{JobID: jobID, Message: status.Error}
				return res
			}
			if cfg.OnPending != nil {
				cfg.OnPending(res.Attempts)
			}
		}

		if cfg.MaxAttempts > 0 && res.Attempts >= cfg.MaxAttempts {
			res.State = StateTimedOut
			res.Err = ErrTimedOut
			return res
		}
		timer.Reset(interval)
	}
}

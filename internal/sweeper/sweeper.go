// Package sweeper periodically fails stale renders and resumes polls that
// were lost, e.g. across a restart.
package sweeper

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/studio"
)

// SweepFunc is the operation run on each tick.
type SweepFunc func(ctx context.Context, staleAfter time.Duration) (studio.SweepReport, error)

// Config controls the schedule.
type Config struct {
	// Schedule is a cron spec, e.g. "@every 1m" or "*/5 * * * *".
	Schedule   string
	StaleAfter time.Duration
	// Timeout bounds a single run.
	Timeout time.Duration
}

// Sweeper runs sweeps on a cron schedule and on demand. Runs never overlap.
type Sweeper struct {
	cfg     Config
	sweep   SweepFunc
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	last    *Run
}

// Run describes one finished sweep.
type Run struct {
	Report   studio.SweepReport `json:"report"`
	Started  time.Time          `json:"started_at"`
	Duration time.Duration      `json:"duration_ns"`
	Error    string             `json:"error,omitempty"`
}

// New validates the schedule and builds a stopped sweeper.
func New(cfg Config, sweep SweepFunc, logger *slog.Logger, m *metrics.Metrics) (*Sweeper, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	s := &Sweeper{
		cfg:     cfg,
		sweep:   sweep,
		cron:    cron.New(),
		logger:  logger.With("component", "sweeper"),
		metrics: m,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { _, _ = s.RunNow(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper scheduled", "schedule", s.cfg.Schedule, "stale_after", s.cfg.StaleAfter)
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ErrBusy is returned by RunNow while another sweep is in progress.
var ErrBusy = errors.New("sweep already running")

// RunNow sweeps immediately.
func (s *Sweeper) RunNow(ctx context.Context) (*Run, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	run := &Run{Started: time.Now().UTC()}
	report, err := s.sweep(ctx, s.cfg.StaleAfter)
	run.Report = report
	run.Duration = time.Since(run.Started)
	if err != nil {
		run.Error = err.Error()
		s.logger.Error("sweep failed", "error", err)
		s.metrics.Error("sweeper")
	} else {
		s.logger.Debug("sweep done", "failed", report.Failed, "resumed", report.Resumed, "duration", run.Duration)
	}

	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	return run, err
}

// Last returns the most recent run, or nil.
func (s *Sweeper) Last() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// Handler serves the admin sweep endpoint: POST triggers a sweep and GET
// returns the most recent run. token, when set, must be sent as a Bearer
// token.
func (s *Sweeper) Handler(token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, []byte("Bearer "+token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			last := s.Last()
			if last == nil {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "no sweep has run yet"})
				return
			}
			_ = json.NewEncoder(w).Encode(last)
			return
		}

		run, err := s.RunNow(r.Context())
		switch {
		case errors.Is(err, ErrBusy):
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		case err != nil:
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(run)
		default:
			_ = json.NewEncoder(w).Encode(run)
		}
	})
}

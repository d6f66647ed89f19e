// Package plan compares usage counters with subscription limits.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/repo"
)

// ErrLimitExceeded is returned when an action would go over the plan limit.
var ErrLimitExceeded = errors.New("plan limit exceeded")

// Resource is a gated capability.
type Resource string

const (
	Avatars      Resource = "avatars"
	AIClones     Resource = "ai_clones"
	VideoMinutes Resource = "video_minutes"
	Automations  Resource = "automations"
)

// CanPerform reports whether one more unit fits: limit is -1 (unlimited) or
// used is strictly below limit.
func CanPerform(used, limit int) bool {
	return limit == repo.Unlimited || used < limit
}

// CanConsume reports whether amount more units fit under limit.
func CanConsume(used, amount, limit int) bool {
	if amount <= 1 {
		return CanPerform(used, limit)
	}
	return limit == repo.Unlimited || used+amount <= limit
}

// Store is the subset of the repository the gate reads.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*repo.User, error)
	GetPlan(ctx context.Context, id string) (*repo.Plan, error)
	GetUsage(ctx context.Context, userID string) (*repo.Usage, error)
}

// Cache stores plans between lookups. Plans change rarely.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Gate checks actions against the caller's plan.
type Gate struct {
	store   Store
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGate builds a gate. cache may be nil.
func NewGate(store Store, cache Cache, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Gate {
	return &Gate{
		store:   store,
		cache:   cache,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With("component", "plan"),
	}
}

// Check returns ErrLimitExceeded (wrapped with details) when userID may not
// consume amount units of res.
func (g *Gate) Check(ctx context.Context, userID string, res Resource, amount int) error {
	p, usage, err := g.load(ctx, userID)
	if err != nil {
		return err
	}

	if res == Automations {
		if !p.AutomationsEnabled {
			g.metrics.LimitRejected(string(res))
			return fmt.Errorf("%w: automations are not included in plan %s", ErrLimitExceeded, p.ID)
		}
		return nil
	}

	used, limit, err := counters(p, usage, res)
	if err != nil {
		return err
	}
	if !CanConsume(used, amount, limit) {
		g.metrics.LimitRejected(string(res))
		g.logger.Info("limit reached", "user_id", userID, "resource", res, "used", used, "limit", limit, "amount", amount)
		return fmt.Errorf("%w: %s %d/%d", ErrLimitExceeded, res, used, limit)
	}
	return nil
}

// ResourceUsage is one row of a usage summary. Remaining is -1 when unlimited.
type ResourceUsage struct {
	Resource  Resource `json:"resource"`
	Used      int      `json:"used"`
	Limit     int      `json:"limit"`
	Remaining int      `json:"remaining"`
	Allowed   bool     `json:"allowed"`
}

// Summary describes the caller's plan and consumption.
type Summary struct {
	Plan               repo.Plan       `json:"plan"`
	AutomationsEnabled bool            `json:"automations_enabled"`
	Resources          []ResourceUsage `json:"resources"`
}

// Summary reports used and remaining units for every counted resource.
func (g *Gate) Summary(ctx context.Context, userID string) (*Summary, error) {
	p, usage, err := g.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	s := &Summary{Plan: *p, AutomationsEnabled: p.AutomationsEnabled}
	for _, res := range []Resource{Avatars, AIClones, VideoMinutes} {
		used, limit, _ := counters(p, usage, res)
		remaining := repo.Unlimited
		if limit != repo.Unlimited {
			remaining = max(limit-used, 0)
		}
		s.Resources = append(s.Resources, ResourceUsage{
			Resource:  res,
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
			Allowed:   CanPerform(used, limit),
		})
	}
	return s, nil
}

func (g *Gate) load(ctx context.Context, userID string) (*repo.Plan, *repo.Usage, error) {
	user, err := g.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	p, err := g.plan(ctx, user.PlanID)
	if err != nil {
		return nil, nil, err
	}
	usage, err := g.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load usage: %w", err)
	}
	return p, usage, nil
}

func (g *Gate) plan(ctx context.Context, planID string) (*repo.Plan, error) {
	if g.cache != nil {
		var cached repo.Plan
		ok, err := g.cache.GetJSON(ctx, cacheKey(planID), &cached)
		if err != nil {
			g.logger.Warn("plan cache read failed", "plan_id", planID, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	p, err := g.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	if g.cache != nil && g.ttl > 0 {
		if err := g.cache.SetJSON(ctx, cacheKey(planID), p, g.ttl); err != nil {
			g.logger.Warn("plan cache write failed", "plan_id", planID, "error", err)
		}
	}
	return p, nil
}

func counters(p *repo.Plan, u *repo.Usage, res Resource) (used, limit int, err error) {
	switch res {
	case Avatars:
		return u.AvatarsUsed, p.MaxAvatars, nil
	case AIClones:
		return u.AIClonesUsed, p.MaxAIClones, nil
	case VideoMinutes:
		return u.VideoMinutesUsed, p.MaxVideoMinutes, nil
	}
	return 0, 0, fmt.Errorf("unknown resource %q", res)
}

func cacheKey(planID string) string {
	return "plan:" + planID
}

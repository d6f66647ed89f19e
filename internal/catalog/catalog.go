// Package catalog lists the avatar templates and voices an influencer can be
// built from, with cached upstream listings and ranked search.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/provider/voice"
)

// Item kinds.
const (
	KindAvatar = "avatar"
	KindVoice  = "voice"
)

// AvatarLister lists stock avatars.
type AvatarLister interface {
	ListAvatars(ctx context.Context) ([]avatar.Template, error)
}

// VoiceLister lists voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]voice.Voice, error)
}

// Cache stores listings as JSON.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Catalog serves listings. avatars, voices and cache may each be nil.
type Catalog struct {
	avatars AvatarLister
	voices  VoiceLister
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// New builds a catalog.
func New(avatars AvatarLister, voices VoiceLister, cache Cache, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Catalog{
		avatars: avatars,
		voices:  voices,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With("component", "catalog"),
	}
}

// Query is a search request.
type Query struct {
	Q    string
	Kind string
	Full bool
}

// Validate checks the search request.
func (q Query) Validate() error {
	return v.ValidateStruct(&q,
		v.Field(&q.Kind, v.In("", KindAvatar, KindVoice)),
		v.Field(&q.Q, v.Length(0, 200)),
	)
}

// Result is a ranked page of items.
type Result struct {
	Items      []Item     `json:"items"`
	Categories []Category `json:"categories"`
}

// Search loads the listings and ranks them.
func (c *Catalog) Search(ctx context.Context, q Query) (*Result, error) {
	q.Kind = strings.ToLower(strings.TrimSpace(q.Kind))
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var items []Item
	for _, kind := range []string{KindAvatar, KindVoice} {
		if q.Kind != "" && q.Kind != kind {
			continue
		}
		list, err := c.Items(ctx, kind, false)
		if err != nil {
			return nil, err
		}
		items = append(items, list...)
	}
	found := Search(items, q.Q, q.Kind, q.Full)
	return &Result{Items: found, Categories: Categories(found)}, nil
}

// Items returns the listing of one kind, from cache unless forceRefresh.
func (c *Catalog) Items(ctx context.Context, kind string, forceRefresh bool) ([]Item, error) {
	cacheKey := "catalog:" + kind
	if c.cache != nil && !forceRefresh {
		var cached []Item
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read catalog cache failed", "kind", kind, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	items, err := c.fetch(ctx, kind)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, items, c.ttl); err != nil {
			c.logger.Warn("set catalog cache failed", "kind", kind, "error", err)
		}
	}
	return items, nil
}

// Reload refreshes every listing and returns the item count per kind.
func (c *Catalog) Reload(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, kind := range []string{KindAvatar, KindVoice} {
		items, err := c.Items(ctx, kind, true)
		if err != nil {
			return counts, fmt.Errorf("reload %s catalog: %w", kind, err)
		}
		counts[kind] = len(items)
	}
	c.logger.Info("catalog reloaded", "avatars", counts[KindAvatar], "voices", counts[KindVoice])
	return counts, nil
}

func (c *Catalog) fetch(ctx context.Context, kind string) ([]Item, error) {
	switch kind {
	case KindAvatar:
		if c.avatars == nil {
			return []Item{}, nil
		}
		list, err := c.avatars.ListAvatars(ctx)
		if err != nil {
			return nil, fmt.Errorf("list avatars: %w", err)
		}
		items := make([]Item, 0, len(list))
		for _, a := range list {
			item := Item{ID: a.ID, Kind: KindAvatar, Name: a.Name, Category: "stock", Gender: a.Gender, PreviewURL: a.PreviewURL}
			switch {
			case a.Gender == "photo":
				item.Category, item.Gender = "photo", ""
			case a.Premium:
				item.Category = "premium"
			}
			items = append(items, item)
		}
		return items, nil
	case KindVoice:
		if c.voices == nil {
			return []Item{}, nil
		}
		list, err := c.voices.ListVoices(ctx)
		if err != nil {
			return nil, fmt.Errorf("list voices: %w", err)
		}
		items := make([]Item, 0, len(list))
		for _, vc := range list {
			items = append(items, Item{ID: vc.ID, Kind: KindVoice, Name: vc.Name, Category: vc.Category, Gender: vc.Labels["gender"], PreviewURL: vc.PreviewURL})
		}
		return items, nil
	}
	return nil, fmt.Errorf("unknown catalog kind %q", kind)
}

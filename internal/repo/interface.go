package repo

import (
	"context"
	"errors"
	"io/fs"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, user NewUser) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	DeleteUser(ctx context.Context, id string) error

	// Plans & usage
	GetPlan(ctx context.Context, id string) (*Plan, error)
	GetUsage(ctx context.Context, userID string) (*Usage, error)
	IncrementUsage(ctx context.Context, userID string, field UsageField, delta int) error

	// Influencers
	InsertInfluencer(ctx context.Context, inf Influencer) (*Influencer, error)
	GetInfluencer(ctx context.Context, id string) (*Influencer, error)
	ListInfluencers(ctx context.Context, userID string) ([]Influencer, error)
	UpdateInfluencer(ctx context.Context, id string, upd InfluencerUpdate) error
	DeleteInfluencer(ctx context.Context, id string) error

	// Contents
	InsertContent(ctx context.Context, content Content) (*Content, error)
	GetContent(ctx context.Context, id string) (*Content, error)
	ListContents(ctx context.Context, influencerID string) ([]Content, error)
	ListContentsByStatus(ctx context.Context, status string) ([]Content, error)
	UpdateContent(ctx context.Context, id string, upd ContentUpdate) error
	// FinishContent applies upd only while the content is still generating
	// and reports whether it did.
	FinishContent(ctx context.Context, id string, upd ContentUpdate) (bool, error)
	DeleteContent(ctx context.Context, id string) error

	// Webhooks
	InsertWebhook(ctx context.Context, hook Webhook) (*Webhook, error)
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, userID string) ([]Webhook, error)
	ListActiveWebhooks(ctx context.Context, influencerID, kind string) ([]Webhook, error)
	SetWebhookActive(ctx context.Context, id string, active bool) error
	RegenerateWebhookToken(ctx context.Context, id string) (string, error)
	DeleteWebhook(ctx context.Context, id string) error
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)

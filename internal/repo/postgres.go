package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to Supabase (Postgres) resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	// Supabase's transaction pooler does not support prepared statements.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// -- Users --

// CreateUser inserts a user together with its zeroed usage row.
func (r *PostgresRepository) CreateUser(ctx context.Context, user NewUser) (*User, error) {
	var u User
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const q = `
INSERT INTO users (id, email, display_name, plan_id)
VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'free'))
RETURNING id, email, display_name, plan_id, created_at, updated_at;
`
		row := tx.QueryRow(ctx, q, newID(), user.Email, user.DisplayName, user.PlanID)
		if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PlanID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO user_usage (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING;`, u.ID); err != nil {
			return fmt.Errorf("insert user usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT id, email, display_name, plan_id, created_at, updated_at
FROM users
WHERE id = $1
LIMIT 1;
`
	var u User
	if err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PlanID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, pgErr("get user by id", err)
	}
	return &u, nil
}

// DeleteUser calls the delete_user RPC, which cascades to all owned rows.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id string) error {
	var deleted *bool
	if err := r.pool.QueryRow(ctx, `SELECT delete_user($1);`, id).Scan(&deleted); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if deleted == nil {
		return fmt.Errorf("delete user %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Plans & usage --

// GetPlan loads a plan by id.
func (r *PostgresRepository) GetPlan(ctx context.Context, id string) (*Plan, error) {
	const q = `
SELECT id, name, max_avatars, max_ai_clones, max_video_minutes, automations_enabled
FROM plans
WHERE id = $1;
`
	var p Plan
	if err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.MaxAvatars, &p.MaxAIClones, &p.MaxVideoMinutes, &p.AutomationsEnabled); err != nil {
		return nil, pgErr("get plan", err)
	}
	return &p, nil
}

// GetUsage returns the counters for userID, zeroed when no row exists yet.
func (r *PostgresRepository) GetUsage(ctx context.Context, userID string) (*Usage, error) {
	const q = `
SELECT avatars_used, ai_clones_used, video_minutes_used, updated_at
FROM user_usage
WHERE user_id = $1;
`
	u := Usage{UserID: userID}
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.AvatarsUsed, &u.AIClonesUsed, &u.VideoMinutesUsed, &u.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

// IncrementUsage adds delta to a counter, never going below zero. Video
// minutes go through the increment_user_video_minutes RPC.
func (r *PostgresRepository) IncrementUsage(ctx context.Context, userID string, field UsageField, delta int) error {
	if !field.Valid() {
		return fmt.Errorf("unknown usage field %q", field)
	}
	if field == UsageVideoMinutes {
		var total int
		if err := r.pool.QueryRow(ctx, `SELECT increment_user_video_minutes($1, $2);`, userID, delta).Scan(&total); err != nil {
			return fmt.Errorf("increment video minutes: %w", err)
		}
		return nil
	}

	q := fmt.Sprintf(`
INSERT INTO user_usage (user_id, %[1]s)
VALUES ($1, GREATEST($2::int, 0))
ON CONFLICT (user_id) DO UPDATE
SET %[1]s = GREATEST(user_usage.%[1]s + $2::int, 0),
    updated_at = NOW();
`, field)
	if _, err := r.pool.Exec(ctx, q, userID, delta); err != nil {
		return fmt.Errorf("increment %s: %w", field, err)
	}
	return nil
}

// -- Influencers --

const influencerColumns = `id, user_id, name, template_id, voice_id, look_id, preview_url, job_id, status, error, created_at, updated_at`

func scanInfluencer(row pgx.Row) (*Influencer, error) {
	var i Influencer
	err := row.Scan(&i.ID, &i.UserID, &i.Name, &i.TemplateID, &i.VoiceID, &i.LookID, &i.PreviewURL, &i.JobID, &i.Status, &i.Error, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// InsertInfluencer stores a new influencer.
func (r *PostgresRepository) InsertInfluencer(ctx context.Context, inf Influencer) (*Influencer, error) {
	if inf.ID == "" {
		inf.ID = newID()
	}
	if inf.Status == "" {
		inf.Status = InfluencerPending
	}
	q := `
INSERT INTO influencers (id, user_id, name, template_id, voice_id, look_id, preview_url, job_id, status, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + influencerColumns + `;`
	row := r.pool.QueryRow(ctx, q, inf.ID, inf.UserID, inf.Name, inf.TemplateID, inf.VoiceID, inf.LookID, inf.PreviewURL, inf.JobID, inf.Status, inf.Error)
	created, err := scanInfluencer(row)
	if err != nil {
		return nil, fmt.Errorf("insert influencer: %w", err)
	}
	return created, nil
}

// GetInfluencer loads one influencer.
func (r *PostgresRepository) GetInfluencer(ctx context.Context, id string) (*Influencer, error) {
	q := `SELECT ` + influencerColumns + ` FROM influencers WHERE id = $1;`
	inf, err := scanInfluencer(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get influencer", err)
	}
	return inf, nil
}

// ListInfluencers returns the user's influencers, newest first.
func (r *PostgresRepository) ListInfluencers(ctx context.Context, userID string) ([]Influencer, error) {
	q := `SELECT ` + influencerColumns + ` FROM influencers WHERE user_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list influencers: %w", err)
	}
	defer rows.Close()

	var res []Influencer
	for rows.Next() {
		inf, err := scanInfluencer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan influencer: %w", err)
		}
		res = append(res, *inf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate influencers: %w", err)
	}
	return res, nil
}

// UpdateInfluencer applies the non-nil fields of upd.
func (r *PostgresRepository) UpdateInfluencer(ctx context.Context, id string, upd InfluencerUpdate) error {
	const q = `
UPDATE influencers
SET status = COALESCE($2, status),
    template_id = COALESCE($3, template_id),
    voice_id = COALESCE($4, voice_id),
    preview_url = COALESCE($5, preview_url),
    job_id = COALESCE($6, job_id),
    error = COALESCE($7, error),
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, upd.Status, upd.TemplateID, upd.VoiceID, upd.PreviewURL, upd.JobID, upd.Error)
	if err != nil {
		return fmt.Errorf("update influencer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update influencer %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteInfluencer removes an influencer and, by cascade, its contents.
func (r *PostgresRepository) DeleteInfluencer(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM influencers WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete influencer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delete influencer %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Contents --

const contentColumns = `id, user_id, influencer_id, title, script, status, job_id, video_url, error, duration_minutes, created_at, updated_at`

func scanContent(row pgx.Row) (*Content, error) {
	var c Content
	err := row.Scan(&c.ID, &c.UserID, &c.InfluencerID, &c.Title, &c.Script, &c.Status, &c.JobID, &c.VideoURL, &c.Error, &c.DurationMinutes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertContent stores a new content row.
func (r *PostgresRepository) InsertContent(ctx context.Context, content Content) (*Content, error) {
	if content.ID == "" {
		content.ID = newID()
	}
	if content.Status == "" {
		content.Status = ContentGenerating
	}
	q := `
INSERT INTO contents (id, user_id, influencer_id, title, script, status, job_id, video_url, error, duration_minutes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + contentColumns + `;`
	row := r.pool.QueryRow(ctx, q, content.ID, content.UserID, content.InfluencerID, content.Title, content.Script, content.Status, content.JobID, content.VideoURL, content.Error, content.DurationMinutes)
	created, err := scanContent(row)
	if err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}
	return created, nil
}

// GetContent loads one content row.
func (r *PostgresRepository) GetContent(ctx context.Context, id string) (*Content, error) {
	q := `SELECT ` + contentColumns + ` FROM contents WHERE id = $1;`
	c, err := scanContent(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get content", err)
	}
	return c, nil
}

// ListContents returns the influencer's contents, newest first.
func (r *PostgresRepository) ListContents(ctx context.Context, influencerID string) ([]Content, error) {
	q := `SELECT ` + contentColumns + ` FROM contents WHERE influencer_id = $1 ORDER BY created_at DESC;`
	return r.queryContents(ctx, q, influencerID)
}

// ListContentsByStatus returns every content in status, oldest first.
func (r *PostgresRepository) ListContentsByStatus(ctx context.Context, status string) ([]Content, error) {
	q := `SELECT ` + contentColumns + ` FROM contents WHERE status = $1 ORDER BY created_at ASC;`
	return r.queryContents(ctx, q, status)
}

func (r *PostgresRepository) queryContents(ctx context.Context, q string, args ...any) ([]Content, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	var res []Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return res, nil
}

// UpdateContent applies the non-nil fields of upd.
func (r *PostgresRepository) UpdateContent(ctx context.Context, id string, upd ContentUpdate) error {
	const q = `
UPDATE contents
SET status = COALESCE($2, status),
    job_id = COALESCE($3, job_id),
    video_url = COALESCE($4, video_url),
    error = COALESCE($5, error),
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, upd.Status, upd.JobID, upd.VideoURL, upd.Error)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update content %s: %w", id, ErrNotFound)
	}
	return nil
}

// FinishContent moves a generating content to its terminal state. It
// reports false when another writer got there first.
func (r *PostgresRepository) FinishContent(ctx context.Context, id string, upd ContentUpdate) (bool, error) {
	const q = `
UPDATE contents
SET status = COALESCE($2, status),
    video_url = COALESCE($3, video_url),
    error = COALESCE($4, error),
    updated_at = NOW()
WHERE id = $1 AND status = $5;
`
	ct, err := r.pool.Exec(ctx, q, id, upd.Status, upd.VideoURL, upd.Error, ContentGenerating)
	if err != nil {
		return false, fmt.Errorf("finish content: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteContent removes a content row.
func (r *PostgresRepository) DeleteContent(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM contents WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delete content %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Webhooks --

const webhookSelect = `
SELECT w.id, w.user_id, w.name, w.url, w.kind, w.token, w.active, w.created_at, w.updated_at,
       COALESCE(array_agg(wi.influencer_id) FILTER (WHERE wi.influencer_id IS NOT NULL), '{}') AS influencer_ids
FROM webhooks w
LEFT JOIN webhook_influencer wi ON wi.webhook_id = w.id
`

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	if err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.URL, &w.Kind, &w.Token, &w.Active, &w.CreatedAt, &w.UpdatedAt, &w.InfluencerIDs); err != nil {
		return nil, err
	}
	if w.InfluencerIDs == nil {
		w.InfluencerIDs = []string{}
	}
	return &w, nil
}

// InsertWebhook stores a webhook and its influencer links in one transaction.
func (r *PostgresRepository) InsertWebhook(ctx context.Context, hook Webhook) (*Webhook, error) {
	if hook.ID == "" {
		hook.ID = newID()
	}
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const q = `
INSERT INTO webhooks (id, user_id, name, url, kind, token, active)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
		if _, err := tx.Exec(ctx, q, hook.ID, hook.UserID, hook.Name, hook.URL, hook.Kind, hook.Token, hook.Active); err != nil {
			return fmt.Errorf("insert webhook: %w", err)
		}
		for _, infID := range hook.InfluencerIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO webhook_influencer (webhook_id, influencer_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`, hook.ID, infID); err != nil {
				return fmt.Errorf("link webhook influencer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetWebhook(ctx, hook.ID)
}

// GetWebhook loads one webhook with its influencer ids.
func (r *PostgresRepository) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	q := webhookSelect + `WHERE w.id = $1 GROUP BY w.id;`
	w, err := scanWebhook(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get webhook", err)
	}
	return w, nil
}

// ListWebhooks returns the user's webhooks, newest first.
func (r *PostgresRepository) ListWebhooks(ctx context.Context, userID string) ([]Webhook, error) {
	q := webhookSelect + `WHERE w.user_id = $1 GROUP BY w.id ORDER BY w.created_at DESC;`
	return r.queryWebhooks(ctx, q, userID)
}

// ListActiveWebhooks returns active webhooks of kind linked to influencerID.
func (r *PostgresRepository) ListActiveWebhooks(ctx context.Context, influencerID, kind string) ([]Webhook, error) {
	q := webhookSelect + `
WHERE w.active AND w.kind = $2
  AND EXISTS (SELECT 1 FROM webhook_influencer x WHERE x.webhook_id = w.id AND x.influencer_id = $1)
GROUP BY w.id
ORDER BY w.created_at ASC;`
	return r.queryWebhooks(ctx, q, influencerID, kind)
}

func (r *PostgresRepository) queryWebhooks(ctx context.Context, q string, args ...any) ([]Webhook, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var res []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		res = append(res, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return res, nil
}

// SetWebhookActive toggles a webhook through the activate_workflow and
// deactivate_workflow RPCs so the workflow runner picks up the change.
func (r *PostgresRepository) SetWebhookActive(ctx context.Context, id string, active bool) error {
	fn := "deactivate_workflow"
	if active {
		fn = "activate_workflow"
	}
	var ok *bool
	if err := r.pool.QueryRow(ctx, `SELECT `+fn+`($1);`, id).Scan(&ok); err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	if ok == nil {
		return fmt.Errorf("%s %s: %w", fn, id, ErrNotFound)
	}
	return nil
}

// RegenerateWebhookToken rotates the inbound token via RPC.
func (r *PostgresRepository) RegenerateWebhookToken(ctx context.Context, id string) (string, error) {
	var token *string
	if err := r.pool.QueryRow(ctx, `SELECT regenerate_webhook_token($1);`, id).Scan(&token); err != nil {
		return "", fmt.Errorf("regenerate webhook token: %w", err)
	}
	if token == nil {
		return "", fmt.Errorf("regenerate webhook token %s: %w", id, ErrNotFound)
	}
	return *token, nil
}

// DeleteWebhook removes a webhook and its links.
func (r *PostgresRepository) DeleteWebhook(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delete webhook %s: %w", id, ErrNotFound)
	}
	return nil
}

func pgErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

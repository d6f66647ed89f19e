package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository provides access to a local SQLite database. It mirrors
// PostgresRepository; RPCs are expressed as plain statements.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialise writers; SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the database connection.
func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplySQLiteMigrations(ctx, r.db, filesystem)
}

// -- Users --

func (r *SQLiteRepository) CreateUser(ctx context.Context, user NewUser) (*User, error) {
	planID := user.PlanID
	if planID == "" {
		planID = "free"
	}
	now := r.now()
	u := User{
		ID:          newID(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		PlanID:      planID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := withSQLTx(ctx, r.db, func(tx *sql.Tx) error {
		const q = `
INSERT INTO users (id, email, display_name, plan_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?);
`
		if _, err := tx.ExecContext(ctx, q, u.ID, u.Email, u.DisplayName, u.PlanID, now, now); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_usage (user_id, updated_at) VALUES (?, ?);`, u.ID, now); err != nil {
			return fmt.Errorf("insert user usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT id, email, display_name, plan_id, created_at, updated_at
FROM users
WHERE id = ?
LIMIT 1;
`
	var u User
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PlanID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, sqlErr("get user by id", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) DeleteUser(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "users", id)
}

// -- Plans & usage --

func (r *SQLiteRepository) GetPlan(ctx context.Context, id string) (*Plan, error) {
	const q = `
SELECT id, name, max_avatars, max_ai_clones, max_video_minutes, automations_enabled
FROM plans
WHERE id = ?;
`
	var p Plan
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.Name, &p.MaxAvatars, &p.MaxAIClones, &p.MaxVideoMinutes, &p.AutomationsEnabled); err != nil {
		return nil, sqlErr("get plan", err)
	}
	return &p, nil
}

func (r *SQLiteRepository) GetUsage(ctx context.Context, userID string) (*Usage, error) {
	const q = `
SELECT avatars_used, ai_clones_used, video_minutes_used, updated_at
FROM user_usage
WHERE user_id = ?;
`
	u := Usage{UserID: userID}
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&u.AvatarsUsed, &u.AIClonesUsed, &u.VideoMinutesUsed, &u.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) IncrementUsage(ctx context.Context, userID string, field UsageField, delta int) error {
	if !field.Valid() {
		return fmt.Errorf("unknown usage field %q", field)
	}
	q := fmt.Sprintf(`
INSERT INTO user_usage (user_id, %[1]s, updated_at)
VALUES (?, MAX(?, 0), ?)
ON CONFLICT (user_id) DO UPDATE
SET %[1]s = MAX(user_usage.%[1]s + ?, 0),
    updated_at = excluded.updated_at;
`, field)
	if _, err := r.db.ExecContext(ctx, q, userID, delta, r.now(), delta); err != nil {
		return fmt.Errorf("increment %s: %w", field, err)
	}
	return nil
}

// -- Influencers --

const sqliteInfluencerColumns = `id, user_id, name, template_id, voice_id, look_id, preview_url, job_id, status, error, created_at, updated_at`

func scanSQLInfluencer(row interface{ Scan(...any) error }) (*Influencer, error) {
	var i Influencer
	err := row.Scan(&i.ID, &i.UserID, &i.Name, &i.TemplateID, &i.VoiceID, &i.LookID, &i.PreviewURL, &i.JobID, &i.Status, &i.Error, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *SQLiteRepository) InsertInfluencer(ctx context.Context, inf Influencer) (*Influencer, error) {
	if inf.ID == "" {
		inf.ID = newID()
	}
	if inf.Status == "" {
		inf.Status = InfluencerPending
	}
	now := r.now()
	inf.CreatedAt, inf.UpdatedAt = now, now
	const q = `
INSERT INTO influencers (id, user_id, name, template_id, voice_id, look_id, preview_url, job_id, status, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q, inf.ID, inf.UserID, inf.Name, inf.TemplateID, inf.VoiceID, inf.LookID, inf.PreviewURL, inf.JobID, inf.Status, inf.Error, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert influencer: %w", err)
	}
	return &inf, nil
}

func (r *SQLiteRepository) GetInfluencer(ctx context.Context, id string) (*Influencer, error) {
	q := `SELECT ` + sqliteInfluencerColumns + ` FROM influencers WHERE id = ?;`
	inf, err := scanSQLInfluencer(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqlErr("get influencer", err)
	}
	return inf, nil
}

func (r *SQLiteRepository) ListInfluencers(ctx context.Context, userID string) ([]Influencer, error) {
	q := `SELECT ` + sqliteInfluencerColumns + ` FROM influencers WHERE user_id = ? ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list influencers: %w", err)
	}
	defer rows.Close()

	var res []Influencer
	for rows.Next() {
		inf, err := scanSQLInfluencer(rows)
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

func (r *SQLiteRepository) UpdateInfluencer(ctx context.Context, id string, upd InfluencerUpdate) error {
	const q = `
UPDATE influencers
SET status = COALESCE(?, status),
    template_id = COALESCE(?, template_id),
    voice_id = COALESCE(?, voice_id),
    preview_url = COALESCE(?, preview_url),
    job_id = COALESCE(?, job_id),
    error = COALESCE(?, error),
    updated_at = ?
WHERE id = ?;
`
	res, err := r.db.ExecContext(ctx, q, upd.Status, upd.TemplateID, upd.VoiceID, upd.PreviewURL, upd.JobID, upd.Error, r.now(), id)
	if err != nil {
		return fmt.Errorf("update influencer: %w", err)
	}
	return requireAffected(res, "update influencer", id)
}

func (r *SQLiteRepository) DeleteInfluencer(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "influencers", id)
}

// -- Contents --

const sqliteContentColumns = `id, user_id, influencer_id, title, script, status, job_id, video_url, error, duration_minutes, created_at, updated_at`

func scanSQLContent(row interface{ Scan(...any) error }) (*Content, error) {
	var c Content
	err := row.Scan(&c.ID, &c.UserID, &c.InfluencerID, &c.Title, &c.Script, &c.Status, &c.JobID, &c.VideoURL, &c.Error, &c.DurationMinutes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepository) InsertContent(ctx context.Context, content Content) (*Content, error) {
	if content.ID == "" {
		content.ID = newID()
	}
	if content.Status == "" {
		content.Status = ContentGenerating
	}
	now := r.now()
	content.CreatedAt, content.UpdatedAt = now, now
	const q = `
INSERT INTO contents (id, user_id, influencer_id, title, script, status, job_id, video_url, error, duration_minutes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q, content.ID, content.UserID, content.InfluencerID, content.Title, content.Script, content.Status, content.JobID, content.VideoURL, content.Error, content.DurationMinutes, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}
	return &content, nil
}

func (r *SQLiteRepository) GetContent(ctx context.Context, id string) (*Content, error) {
	q := `SELECT ` + sqliteContentColumns + ` FROM contents WHERE id = ?;`
	c, err := scanSQLContent(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqlErr("get content", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListContents(ctx context.Context, influencerID string) ([]Content, error) {
	q := `SELECT ` + sqliteContentColumns + ` FROM contents WHERE influencer_id = ? ORDER BY created_at DESC;`
	return r.queryContents(ctx, q, influencerID)
}

func (r *SQLiteRepository) ListContentsByStatus(ctx context.Context, status string) ([]Content, error) {
	q := `SELECT ` + sqliteContentColumns + ` FROM contents WHERE status = ? ORDER BY created_at ASC;`
	return r.queryContents(ctx, q, status)
}

func (r *SQLiteRepository) queryContents(ctx context.Context, q string, args ...any) ([]Content, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	var res []Content
	for rows.Next() {
		c, err := scanSQLContent(rows)
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

func (r *SQLiteRepository) UpdateContent(ctx context.Context, id string, upd ContentUpdate) error {
	const q = `
UPDATE contents
SET status = COALESCE(?, status),
    job_id = COALESCE(?, job_id),
    video_url = COALESCE(?, video_url),
    error = COALESCE(?, error),
    updated_at = ?
WHERE id = ?;
`
	res, err := r.db.ExecContext(ctx, q, upd.Status, upd.JobID, upd.VideoURL, upd.Error, r.now(), id)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return requireAffected(res, "update content", id)
}

func (r *SQLiteRepository) FinishContent(ctx context.Context, id string, upd ContentUpdate) (bool, error) {
	const q = `
UPDATE contents
SET status = COALESCE(?, status),
    video_url = COALESCE(?, video_url),
    error = COALESCE(?, error),
    updated_at = ?
WHERE id = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q, upd.Status, upd.VideoURL, upd.Error, r.now(), id, ContentGenerating)
	if err != nil {
		return false, fmt.Errorf("finish content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish content: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) DeleteContent(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "contents", id)
}

// -- Webhooks --

const sqliteWebhookSelect = `
SELECT w.id, w.user_id, w.name, w.url, w.kind, w.token, w.active, w.created_at, w.updated_at,
       COALESCE(group_concat(wi.influencer_id, ','), '') AS influencer_ids
FROM webhooks w
LEFT JOIN webhook_influencer wi ON wi.webhook_id = w.id
`

func scanSQLWebhook(row interface{ Scan(...any) error }) (*Webhook, error) {
	var w Webhook
	var ids string
	if err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.URL, &w.Kind, &w.Token, &w.Active, &w.CreatedAt, &w.UpdatedAt, &ids); err != nil {
		return nil, err
	}
	w.InfluencerIDs = []string{}
	if ids != "" {
		w.InfluencerIDs = strings.Split(ids, ",")
	}
	return &w, nil
}

func (r *SQLiteRepository) InsertWebhook(ctx context.Context, hook Webhook) (*Webhook, error) {
	if hook.ID == "" {
		hook.ID = newID()
	}
	now := r.now()
	err := withSQLTx(ctx, r.db, func(tx *sql.Tx) error {
		const q = `
INSERT INTO webhooks (id, user_id, name, url, kind, token, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
		if _, err := tx.ExecContext(ctx, q, hook.ID, hook.UserID, hook.Name, hook.URL, hook.Kind, hook.Token, hook.Active, now, now); err != nil {
			return fmt.Errorf("insert webhook: %w", err)
		}
		for _, infID := range hook.InfluencerIDs {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO webhook_influencer (webhook_id, influencer_id) VALUES (?, ?);`, hook.ID, infID); err != nil {
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

func (r *SQLiteRepository) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	q := sqliteWebhookSelect + `WHERE w.id = ? GROUP BY w.id;`
	w, err := scanSQLWebhook(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqlErr("get webhook", err)
	}
	return w, nil
}

func (r *SQLiteRepository) ListWebhooks(ctx context.Context, userID string) ([]Webhook, error) {
	q := sqliteWebhookSelect + `WHERE w.user_id = ? GROUP BY w.id ORDER BY w.created_at DESC;`
	return r.queryWebhooks(ctx, q, userID)
}

func (r *SQLiteRepository) ListActiveWebhooks(ctx context.Context, influencerID, kind string) ([]Webhook, error) {
	q := sqliteWebhookSelect + `
WHERE w.active = 1 AND w.kind = ?
  AND EXISTS (SELECT 1 FROM webhook_influencer x WHERE x.webhook_id = w.id AND x.influencer_id = ?)
GROUP BY w.id
ORDER BY w.created_at ASC;`
	return r.queryWebhooks(ctx, q, kind, influencerID)
}

func (r *SQLiteRepository) queryWebhooks(ctx context.Context, q string, args ...any) ([]Webhook, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var res []Webhook
	for rows.Next() {
		w, err := scanSQLWebhook(rows)
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

func (r *SQLiteRepository) SetWebhookActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE webhooks SET active = ?, updated_at = ? WHERE id = ?;`, active, r.now(), id)
	if err != nil {
		return fmt.Errorf("set webhook active: %w", err)
	}
	return requireAffected(res, "set webhook active", id)
}

func (r *SQLiteRepository) RegenerateWebhookToken(ctx context.Context, id string) (string, error) {
	token := NewToken()
	res, err := r.db.ExecContext(ctx, `UPDATE webhooks SET token = ?, updated_at = ? WHERE id = ?;`, token, r.now(), id)
	if err != nil {
		return "", fmt.Errorf("regenerate webhook token: %w", err)
	}
	if err := requireAffected(res, "regenerate webhook token", id); err != nil {
		return "", err
	}
	return token, nil
}

func (r *SQLiteRepository) DeleteWebhook(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "webhooks", id)
}

// deleteByID is only called with constant table names.
func (r *SQLiteRepository) deleteByID(ctx context.Context, table, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return requireAffected(res, "delete from "+table, id)
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

func sqlErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"concurseiro-backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// ReminderRecipient is an opted-in user as the reminder scheduler sees it.
// LastSent is the raw timestamp stored under the last-sent key.
type ReminderRecipient struct {
	ID       uuid.UUID `db:"id"`
	Email    string    `db:"email"`
	FullName string    `db:"full_name"`
	Language string    `db:"language"`
	LastSent string    `db:"last_sent"`
}

const userColumns = `id, email, password_hash, full_name, is_verified, is_active, plan, created_at, last_login_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName,
		&u.IsVerified, &u.IsActive, &u.Plan, &u.CreatedAt, &u.LastLoginAt,
	); err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts the user together with its settings row so the
// notification queries never see a user without one.
func (r *UserRepo) Create(ctx context.Context, user *models.User, language string) error {
	user.ID = uuid.New()
	user.Plan = "free"
	user.IsActive = true

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id, email, password_hash, full_name, is_verified, plan)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			user.ID, user.Email, user.PasswordHash, user.FullName, user.IsVerified, user.Plan,
		).Scan(&user.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO user_settings (user_id, language) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			user.ID, language)
		return err
	})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (r *UserRepo) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE users SET is_verified = TRUE WHERE id = $1", userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *UserRepo) TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, "UPDATE users SET last_login_at = $1 WHERE id = $2", at, userID)
	return err
}

// GetNotificationSetting reads one boolean flag; a missing or non-boolean
// value yields defaultValue.
func (r *UserRepo) GetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, defaultValue bool) (bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		"SELECT notifications_json->$2 FROM user_settings WHERE user_id = $1", userID, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) || raw == nil {
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, err
	}

	var enabled bool
	if json.Unmarshal(raw, &enabled) != nil {
		return defaultValue, nil
	}
	return enabled, nil
}

func (r *UserRepo) SetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, enabled bool) error {
	return r.mergeNotifications(ctx, userID, map[string]any{key: enabled})
}

func (r *UserRepo) SetNotificationTimestamp(ctx context.Context, userID uuid.UUID, key string, at time.Time) error {
	return r.mergeNotifications(ctx, userID, map[string]any{key: at.UTC().Format(time.RFC3339)})
}

// mergeNotifications shallow-merges patch into the user's notification
// document, creating the settings row when needed.
func (r *UserRepo) mergeNotifications(ctx context.Context, userID uuid.UUID, patch map[string]any) error {
	doc, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal notification patch: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, notifications_json, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET notifications_json = user_settings.notifications_json || EXCLUDED.notifications_json,
			updated_at = NOW()`,
		userID, doc)
	return err
}

// ListReminderRecipients returns active, verified users that opted in to
// optInKey and own at least one exam.
func (r *UserRepo) ListReminderRecipients(ctx context.Context, optInKey, lastSentKey string) ([]ReminderRecipient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.email, u.full_name, us.language,
			COALESCE(us.notifications_json->>$2, '') AS last_sent
		FROM users u
		JOIN user_settings us ON us.user_id = u.id
		WHERE u.is_active AND u.is_verified
		  AND us.notifications_json->$1 = 'true'::jsonb
		  AND EXISTS (SELECT 1 FROM exams e WHERE e.user_id = u.id)`,
		optInKey, lastSentKey)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[ReminderRecipient])
}

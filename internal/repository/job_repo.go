package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"concurseiro-backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = models.JobPending
	j.RetryCount = 0
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}

	configBytes := []byte(j.ConfigJSON)
	if len(configBytes) == 0 {
		configBytes = []byte("{}")
	}

	var referenceID *uuid.UUID
	if j.ReferenceID != uuid.Nil {
		referenceID = &j.ReferenceID
	}

	query := `INSERT INTO jobs (id, user_id, type, reference_id, config_json, status, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		j.ID, j.UserID, j.Type, referenceID, configBytes, j.Status, j.RetryCount, j.MaxRetries,
	).Scan(&j.CreatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	var referenceID *uuid.UUID
	var result []byte
	query := `SELECT id, user_id, type, reference_id, config_json, status, retry_count, max_retries,
			result_json, error_message, created_at, completed_at
		FROM jobs WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.UserID, &j.Type, &referenceID, &j.ConfigJSON, &j.Status,
		&j.RetryCount, &j.MaxRetries, &result, &j.ErrorMessage, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if referenceID != nil {
		j.ReferenceID = *referenceID
	}
	if len(result) > 0 {
		j.ResultJSON = result
	}
	return j, nil
}

// GetForUser hides jobs of other users behind pgx.ErrNoRows.
func (r *JobRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error) {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	return j, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := "UPDATE jobs SET status = $1 WHERE id = $2"
	if status == models.JobCompleted || status == models.JobFailed || status == models.JobCancelled {
		query = "UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3"
		_, err := r.pool.Exec(ctx, query, status, time.Now(), id)
		return err
	}
	_, err := r.pool.Exec(ctx, query, status, id)
	return err
}

func (r *JobRepo) UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE jobs SET error_message = $1, retry_count = $2 WHERE id = $3",
		errMsg, retryCount, id,
	)
	return err
}

// Complete stores the job result and marks it completed in one statement.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, result models.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		"UPDATE jobs SET status = $1, result_json = $2, error_message = NULL, completed_at = $3 WHERE id = $4",
		models.JobCompleted, data, time.Now(), id,
	)
	return err
}

// Cancel marks a pending job cancelled; jobs already picked up are left alone.
func (r *JobRepo) Cancel(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3 AND user_id = $4 AND status = $5",
		models.JobCancelled, time.Now(), id, userID, models.JobPending,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

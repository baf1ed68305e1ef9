package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"concurseiro-backend/internal/models"
)

// ExamRepo stores one row per tracked exam with the whole ExamData
// aggregate as JSONB. Every write replaces the aggregate.
type ExamRepo struct {
	pool *pgxpool.Pool
}

func NewExamRepo(pool *pgxpool.Pool) *ExamRepo {
	return &ExamRepo{pool: pool}
}

func (r *ExamRepo) Create(ctx context.Context, e *models.Exam) error {
	e.ID = uuid.New()
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal exam data: %w", err)
	}

	query := `INSERT INTO exams (id, user_id, title, data)
		VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query, e.ID, e.UserID, e.Data.Title, data).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *ExamRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Exam, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, data, created_at, updated_at
		FROM exams WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exams := make([]models.Exam, 0)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// GetByID only returns exams owned by userID; anything else is pgx.ErrNoRows.
func (r *ExamRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Exam, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, data, created_at, updated_at
		FROM exams WHERE id = $1 AND user_id = $2`, id, userID)
	return scanExam(row)
}

// Save persists the full aggregate of an existing exam.
func (r *ExamRepo) Save(ctx context.Context, e *models.Exam) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal exam data: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		UPDATE exams SET title = $1, data = $2, updated_at = NOW()
		WHERE id = $3 AND user_id = $4
		RETURNING updated_at`,
		e.Data.Title, data, e.ID, e.UserID,
	).Scan(&e.UpdatedAt)
	return err
}

func (r *ExamRepo) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM exams WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateData applies fn to the stored aggregate inside a transaction holding
// the row lock, so concurrent writers (snapshot saves, plan toggles, job
// results) never overwrite each other's changes. If fn returns an error
// nothing is written.
func (r *ExamRepo) UpdateData(ctx context.Context, id, userID uuid.UUID, fn func(*models.ExamData) error) (*models.Exam, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, user_id, data, created_at, updated_at
		FROM exams WHERE id = $1 AND user_id = $2
		FOR UPDATE`, id, userID)
	e, err := scanExam(row)
	if err != nil {
		return nil, err
	}

	if err := fn(&e.Data); err != nil {
		return nil, err
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal exam data: %w", err)
	}
	err = tx.QueryRow(ctx, `
		UPDATE exams SET title = $1, data = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`,
		e.Data.Title, data, e.ID,
	).Scan(&e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// errStaleSnapshot aborts the transaction when a newer snapshot is stored.
var errStaleSnapshot = errors.New("stale snapshot")

// SaveSimulationSnapshot replaces the stored snapshot with the same id, or
// appends it. Snapshots older than the stored one are ignored and reported
// with applied == false.
func (r *ExamRepo) SaveSimulationSnapshot(ctx context.Context, id, userID uuid.UUID, snap models.SimulationResult) (bool, error) {
	_, err := r.UpdateData(ctx, id, userID, func(d *models.ExamData) error {
		if !d.UpsertSimulation(snap) {
			return errStaleSnapshot
		}
		return nil
	})
	if errors.Is(err, errStaleSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ExamRepo) FindSimulation(ctx context.Context, id, userID uuid.UUID, simulationID string) (*models.Exam, models.SimulationResult, error) {
	e, err := r.GetByID(ctx, id, userID)
	if err != nil {
		return nil, models.SimulationResult{}, err
	}
	snap, ok := e.Data.FindSimulation(simulationID)
	if !ok {
		return e, models.SimulationResult{}, models.ErrSimulationNotFound
	}
	return e, snap, nil
}

func scanExam(row pgx.Row) (*models.Exam, error) {
	e := &models.Exam{}
	var data []byte
	if err := row.Scan(&e.ID, &e.UserID, &data, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshal exam %s: %w", e.ID, err)
	}
	e.Data.Normalize()
	return e, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/repository"
)

var ErrQueueUnavailable = errors.New("job queue unavailable")

// JobQueueName is the Redis list a job type is pushed to.
func JobQueueName(jobType string) string {
	return "queue:" + jobType
}

// JobTypes lists every queue the worker pool consumes.
var JobTypes = []string{
	models.JobExamAnalysis,
	models.JobRoleSubjects,
	models.JobDailyPlan,
	models.JobSimulationGeneration,
	models.JobPastExamImport,
}

// JobQueue records a job row and pushes it to the worker queue.
type JobQueue struct {
	jobs  *repository.JobRepo
	redis *redis.Client
	log   *zap.Logger
}

func NewJobQueue(jobs *repository.JobRepo, redisClient *redis.Client, log *zap.Logger) *JobQueue {
	return &JobQueue{jobs: jobs, redis: redisClient, log: log}
}

// Enqueue stores the job and pushes it. A job that cannot be pushed is
// marked failed so clients polling it do not wait forever.
func (q *JobQueue) Enqueue(ctx context.Context, userID uuid.UUID, jobType string, referenceID uuid.UUID, config any) (*models.Job, error) {
	configBytes, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal job config: %w", err)
	}

	job := &models.Job{
		UserID:      userID,
		Type:        jobType,
		ReferenceID: referenceID,
		ConfigJSON:  configBytes,
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if q.redis == nil {
		_ = q.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
		return nil, ErrQueueUnavailable
	}

	jobBytes, _ := json.Marshal(job)
	if err := q.redis.LPush(ctx, JobQueueName(jobType), string(jobBytes)).Err(); err != nil {
		q.log.Error("failed to enqueue job", zap.String("job_id", job.ID.String()), zap.String("type", jobType), zap.Error(err))
		_ = q.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	q.log.Debug("job enqueued", zap.String("job_id", job.ID.String()), zap.String("type", jobType))
	return job, nil
}

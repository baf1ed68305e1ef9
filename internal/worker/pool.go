package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/metrics"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/repository"
	"concurseiro-backend/internal/services"
)

const (
	popTimeout  = 30 * time.Second
	lockTTL     = 10 * time.Minute
	jobDeadline = 8 * time.Minute
)

type contentService interface {
	AnalyzeExam(ctx context.Context, name string) (*services.ExamAnalysis, error)
	GetSubjectsForRole(ctx context.Context, examTitle, organization, role string) ([]models.Subject, error)
	GetExamBlueprint(ctx context.Context, examTitle, organization, role string, totalQuestions int) string
	GenerateSimulationQuestions(ctx context.Context, p services.SimulationParams) ([]models.Question, error)
	FindPastExamQuestions(ctx context.Context, query string) (*models.PastExam, error)
	GenerateDailyPlan(ctx context.Context, exam *models.ExamData, availableHours float64) (*models.DailyPlan, error)
}

type examStore interface {
	Create(ctx context.Context, e *models.Exam) error
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Exam, error)
	UpdateData(ctx context.Context, id, userID uuid.UUID, fn func(*models.ExamData) error) (*models.Exam, error)
	SaveSimulationSnapshot(ctx context.Context, id, userID uuid.UUID, snap models.SimulationResult) (bool, error)
}

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
	Complete(ctx context.Context, id uuid.UUID, result models.JobResult) error
}

type updatePublisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

// Pool consumes the Redis job queues. Each job is guarded by a SETNX lock and
// retried with exponential backoff up to its MaxRetries.
type Pool struct {
	redis       *redis.Client
	content     contentService
	exams       examStore
	jobs        jobStore
	publisher   updatePublisher
	log         *zap.Logger
	now         func() time.Time
	workerCount int
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	content *services.ContentService,
	exams *repository.ExamRepo,
	jobs *repository.JobRepo,
	publisher *services.Publisher,
	workerCount int,
	log *zap.Logger,
) *Pool {
	return &Pool{
		redis:       redisClient,
		content:     content,
		exams:       exams,
		jobs:        jobs,
		publisher:   publisher,
		log:         log,
		now:         time.Now,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	queues := make([]string, 0, len(services.JobTypes))
	for _, t := range services.JobTypes {
		queues = append(queues, services.JobQueueName(t))
	}

	for i := 0; i < p.workerCount; i++ {
		go p.worker(i, queues)
	}

	p.log.Info("started worker goroutines", zap.Int("count", p.workerCount))
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int, queues []string) {
	log := p.log.With(zap.Int("worker", id))
	for {
		select {
		case <-p.stopChan:
			log.Info("worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, queues...).Result()
		if err != nil {
			continue // timeout or transient error
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error("failed to parse job", zap.Error(err))
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil || !locked {
			continue // another worker has this job
		}

		p.run(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// run executes one job and records its outcome.
func (p *Pool) run(ctx context.Context, job *models.Job) {
	log := p.log.With(zap.String("job_id", job.ID.String()), zap.String("type", job.Type))

	if stored, err := p.jobs.GetByID(ctx, job.ID); err == nil && stored.Status == models.JobCancelled {
		log.Info("skipping cancelled job")
		metrics.JobsProcessed.WithLabelValues(job.Type, "cancelled").Inc()
		return
	}

	log.Info("processing job", zap.Int("attempt", job.RetryCount+1))
	p.jobs.UpdateStatus(ctx, job.ID, models.JobProcessing)
	p.step(ctx, job, 1, "Preparando", 60)

	jobCtx, cancel := context.WithTimeout(ctx, jobDeadline)
	res, err := p.process(jobCtx, job)
	cancel()

	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}
	p.handleSuccess(ctx, job, res)
}

func (p *Pool) process(ctx context.Context, job *models.Job) (models.JobResult, error) {
	switch job.Type {
	case models.JobExamAnalysis:
		return p.processExamAnalysis(ctx, job)
	case models.JobRoleSubjects:
		return p.processRoleSubjects(ctx, job)
	case models.JobDailyPlan:
		return p.processDailyPlan(ctx, job)
	case models.JobSimulationGeneration:
		return p.processSimulation(ctx, job)
	case models.JobPastExamImport:
		return p.processPastExam(ctx, job)
	default:
		return models.JobResult{}, permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}
}

func (p *Pool) step(ctx context.Context, job *models.Job, n int, name string, eta int) {
	p.publisher.PublishUpdate(ctx, job.UserID, models.WSMessage{
		Type: models.WSStatusUpdate,
		Payload: models.StatusUpdate{
			JobID:                     job.ID,
			Step:                      n,
			StepName:                  name,
			EstimatedSecondsRemaining: eta,
		},
	})
}

func decodeConfig(job *models.Job, v any) error {
	if err := json.Unmarshal(job.ConfigJSON, v); err != nil {
		return permanent(fmt.Errorf("invalid job config: %w", err))
	}
	return nil
}

// loadExam treats a missing exam as permanent: it was deleted after the job
// was queued.
func (p *Pool) loadExam(ctx context.Context, job *models.Job) (*models.Exam, error) {
	exam, err := p.exams.GetByID(ctx, job.ReferenceID, job.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, permanent(fmt.Errorf("exam %s not found", job.ReferenceID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}
	return exam, nil
}

func (p *Pool) processExamAnalysis(ctx context.Context, job *models.Job) (models.JobResult, error) {
	var cfg models.ExamAnalysisConfig
	if err := decodeConfig(job, &cfg); err != nil {
		return models.JobResult{}, err
	}

	p.step(ctx, job, 2, "Pesquisando o edital", 45)
	analysis, err := p.content.AnalyzeExam(ctx, cfg.Query)
	if err != nil {
		return models.JobResult{}, err
	}

	p.step(ctx, job, 3, "Salvando concurso", 5)
	exam := &models.Exam{UserID: job.UserID, Data: analysis.Data}
	exam.Data.Normalize()
	if err := p.exams.Create(ctx, exam); err != nil {
		return models.JobResult{}, fmt.Errorf("failed to save exam: %w", err)
	}
	return models.JobResult{ExamID: exam.ID}, nil
}

func (p *Pool) processRoleSubjects(ctx context.Context, job *models.Job) (models.JobResult, error) {
	var cfg models.RoleSubjectsConfig
	if err := decodeConfig(job, &cfg); err != nil {
		return models.JobResult{}, err
	}
	exam, err := p.loadExam(ctx, job)
	if err != nil {
		return models.JobResult{}, err
	}

	p.step(ctx, job, 2, "Buscando conteúdo programático", 40)
	subjects, err := p.content.GetSubjectsForRole(ctx, exam.Data.Title, exam.Data.Organization, cfg.Role)
	if err != nil {
		return models.JobResult{}, err
	}

	if _, err := p.exams.UpdateData(ctx, exam.ID, job.UserID, func(d *models.ExamData) error {
		d.SelectRole(cfg.Role, subjects)
		return nil
	}); err != nil {
		return models.JobResult{}, fmt.Errorf("failed to save subjects: %w", err)
	}
	return models.JobResult{ExamID: exam.ID}, nil
}

func (p *Pool) processDailyPlan(ctx context.Context, job *models.Job) (models.JobResult, error) {
	var cfg models.DailyPlanConfig
	if err := decodeConfig(job, &cfg); err != nil {
		return models.JobResult{}, err
	}
	exam, err := p.loadExam(ctx, job)
	if err != nil {
		return models.JobResult{}, err
	}

	p.step(ctx, job, 2, "Montando o plano de hoje", 30)
	plan, err := p.content.GenerateDailyPlan(ctx, &exam.Data, cfg.AvailableHours)
	if err != nil {
		return models.JobResult{}, err
	}

	if _, err := p.exams.UpdateData(ctx, exam.ID, job.UserID, func(d *models.ExamData) error {
		d.DailyPlans = append(d.DailyPlans, *plan)
		return nil
	}); err != nil {
		return models.JobResult{}, fmt.Errorf("failed to save plan: %w", err)
	}
	return models.JobResult{ExamID: exam.ID, PlanID: plan.ID}, nil
}

// simulationParams maps a generation request onto the prompt parameters.
// Full exams are steered by the real exam layout when one can be found and
// otherwise by subject importance.
func (p *Pool) simulationParams(ctx context.Context, exam *models.Exam, req models.GenerateSimulationRequest) services.SimulationParams {
	params := services.SimulationParams{
		ExamContext:  services.ExamContext(&exam.Data),
		Count:        req.Count,
		Topic:        req.Topic,
		StudyContent: req.StudyContent,
		Organization: exam.Data.Organization,
		Role:         exam.Data.SelectedRole,
	}
	if params.Topic == "" && req.Subject != "" {
		params.Topic = req.Subject
	}
	if req.FullExam || params.Topic == "" {
		params.Topic = models.DefaultTopic
		params.Subjects = exam.Data.Subjects
		params.Blueprint = p.content.GetExamBlueprint(ctx, exam.Data.Title, exam.Data.Organization, exam.Data.SelectedRole, req.Count)
	}
	return params
}

func (p *Pool) processSimulation(ctx context.Context, job *models.Job) (models.JobResult, error) {
	var cfg models.GenerateSimulationRequest
	if err := decodeConfig(job, &cfg); err != nil {
		return models.JobResult{}, err
	}
	exam, err := p.loadExam(ctx, job)
	if err != nil {
		return models.JobResult{}, err
	}

	p.step(ctx, job, 2, "Elaborando questões", 60)
	params := p.simulationParams(ctx, exam, cfg)
	questions, err := p.content.GenerateSimulationQuestions(ctx, params)
	if err != nil {
		return models.JobResult{}, err
	}

	snap := newSimulation(exam.Data.Title, params.Topic, questions, p.now())
	return p.storeSimulation(ctx, job, exam.ID, snap)
}

func (p *Pool) processPastExam(ctx context.Context, job *models.Job) (models.JobResult, error) {
	var cfg models.PastExamConfig
	if err := decodeConfig(job, &cfg); err != nil {
		return models.JobResult{}, err
	}
	exam, err := p.loadExam(ctx, job)
	if err != nil {
		return models.JobResult{}, err
	}

	p.step(ctx, job, 2, "Buscando a prova original", 60)
	past, err := p.content.FindPastExamQuestions(ctx, cfg.Query)
	if err != nil {
		return models.JobResult{}, err
	}

	title := fmt.Sprintf("%s (%s %s)", past.Title, past.Org, past.Year)
	snap := newSimulation(title, past.Title, past.Questions, p.now())
	return p.storeSimulation(ctx, job, exam.ID, snap)
}

func newSimulation(examTitle, topic string, questions []models.Question, now time.Time) models.SimulationResult {
	return models.SimulationResult{
		ID:             uuid.NewString(),
		ExamTitle:      examTitle,
		Date:           now,
		Topic:          topic,
		Score:          0,
		TotalQuestions: len(questions),
		Questions:      questions,
		UserAnswers:    []models.UserAnswer{},
		Status:         models.StatusInProgress,
	}
}

func (p *Pool) storeSimulation(ctx context.Context, job *models.Job, examID uuid.UUID, snap models.SimulationResult) (models.JobResult, error) {
	p.step(ctx, job, 3, "Salvando simulado", 5)
	if _, err := p.exams.SaveSimulationSnapshot(ctx, examID, job.UserID, snap); err != nil {
		return models.JobResult{}, fmt.Errorf("failed to save simulation: %w", err)
	}
	return models.JobResult{ExamID: examID, SimulationID: snap.ID}, nil
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, res models.JobResult) {
	if err := p.jobs.Complete(ctx, job.ID, res); err != nil {
		p.log.Error("failed to record job result", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	metrics.JobsProcessed.WithLabelValues(job.Type, "completed").Inc()

	p.publisher.PublishUpdate(ctx, job.UserID, models.WSMessage{
		Type: models.WSCompleted,
		Payload: models.CompletedEvent{
			JobID:      job.ID,
			ResultType: job.Type,
			Result:     res,
		},
	})

	p.log.Info("job completed", zap.String("job_id", job.ID.String()), zap.String("type", job.Type))
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	if !isPermanent(err) && job.RetryCount < maxRetries {
		p.log.Warn("job failed, retrying",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.RetryCount),
			zap.Error(err))
		p.jobs.UpdateStatus(ctx, job.ID, models.JobPending)
		p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)
		metrics.JobsProcessed.WithLabelValues(job.Type, "retried").Inc()

		jobBytes, _ := json.Marshal(job)
		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		time.AfterFunc(backoff, func() {
			p.redis.LPush(context.Background(), services.JobQueueName(job.Type), string(jobBytes))
		})
		return
	}

	p.log.Error("job failed permanently", zap.String("job_id", job.ID.String()), zap.Error(err))
	p.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
	p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)
	metrics.JobsProcessed.WithLabelValues(job.Type, "failed").Inc()

	code, msgID := classifyError(err)
	p.publisher.PublishUpdate(ctx, job.UserID, models.WSMessage{
		Type: models.WSError,
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    code,
			ErrorMessage: i18n.T(ctx, msgID),
		},
	})
}

// classifyError maps a job error to the code and message shown to the user.
func classifyError(err error) (code, msgID string) {
	var pe *services.ParseError
	var ge *services.GenerationError
	var se *services.ServiceUnavailableError
	switch {
	case errors.As(err, &se):
		return "CONTENT_UNAVAILABLE", "ContentUnavailable"
	case errors.As(err, &pe), errors.As(err, &ge):
		return "CONTENT_MALFORMED", "ContentMalformed"
	default:
		return "JOB_FAILED", "InternalError"
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// permanent marks an error that retrying cannot fix.
func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

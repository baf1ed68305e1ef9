package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
)

const (
	minPlanHours         = 0.5
	maxPlanHours         = 16
	defaultQuestionCount = 10
	maxQuestionCount     = 120
)

type examStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Exam, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Exam, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
	UpdateData(ctx context.Context, id, userID uuid.UUID, fn func(*models.ExamData) error) (*models.Exam, error)
	FindSimulation(ctx context.Context, id, userID uuid.UUID, simulationID string) (*models.Exam, models.SimulationResult, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, userID uuid.UUID, jobType string, referenceID uuid.UUID, config any) (*models.Job, error)
}

type topicEnhancer interface {
	EnhanceSubjectTopics(ctx context.Context, exam *models.ExamData, subject string, currentTopics []string) ([]string, error)
}

// ExamHandler serves the exam aggregate: the checklist, plans and the
// requests that are handed to the worker pool.
type ExamHandler struct {
	exams  examStore
	jobs   jobEnqueuer
	topics topicEnhancer
	log    *zap.Logger
	now    func() time.Time
}

func NewExamHandler(exams examStore, jobs jobEnqueuer, topics topicEnhancer, log *zap.Logger) *ExamHandler {
	return &ExamHandler{
		exams:  exams,
		jobs:   jobs,
		topics: topics,
		log:    log,
		now:    time.Now,
	}
}

func (h *ExamHandler) enqueue(w http.ResponseWriter, r *http.Request, jobType string, examID uuid.UUID, cfg any) {
	userID := middleware.GetUserID(r.Context())
	job, err := h.jobs.Enqueue(r.Context(), userID, jobType, examID, cfg)
	if err != nil {
		h.log.Error("failed to enqueue job", zap.String("type", jobType), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// loadExam resolves {id} to an exam owned by the caller, writing the error
// response itself when it cannot.
func (h *ExamHandler) loadExam(w http.ResponseWriter, r *http.Request) (*models.Exam, bool) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return nil, false
	}
	exam, err := h.exams.GetByID(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	return exam, true
}

func (h *ExamHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeExamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		validationFailed(w, r, "query", "QueryRequired")
		return
	}
	h.enqueue(w, r, models.JobExamAnalysis, uuid.Nil, models.ExamAnalysisConfig{Query: query})
}

func (h *ExamHandler) List(w http.ResponseWriter, r *http.Request) {
	exams, err := h.exams.ListByUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		internalError(w, r)
		return
	}

	summaries := make([]models.ExamSummary, 0, len(exams))
	for i := range exams {
		summaries = append(summaries, exams[i].Summary())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exams": summaries})
}

func (h *ExamHandler) Get(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *ExamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.exams.Delete(r.Context(), id, middleware.GetUserID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": i18n.T(r.Context(), "ExamDeleted")})
}

func (h *ExamHandler) SelectRole(w http.ResponseWriter, r *http.Request) {
	var req models.SelectRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		validationFailed(w, r, "role", "RoleRequired")
		return
	}

	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	h.enqueue(w, r, models.JobRoleSubjects, exam.ID, models.RoleSubjectsConfig{Role: role})
}

func (h *ExamHandler) ToggleTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req models.ToggleTopicRequest
	if !decodeBody(w, r, &req) {
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		validationFailed(w, r, "topic", "TopicRequired")
		return
	}

	var completed bool
	_, err := h.exams.UpdateData(r.Context(), id, middleware.GetUserID(r.Context()), func(d *models.ExamData) error {
		completed = d.ToggleTopic(topic)
		return nil
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topic": topic, "completed": completed})
}

var errSubjectNotFound = errors.New("subject not found")

// EnhanceSubject asks for topics missing from a subject and merges the new
// ones into the stored checklist. Topics already present are never repeated.
func (h *ExamHandler) EnhanceSubject(w http.ResponseWriter, r *http.Request) {
	var req models.EnhanceSubjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Subject)
	if name == "" {
		validationFailed(w, r, "subject", "SubjectRequired")
		return
	}

	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	subject := exam.Data.Subject(name)
	if subject == nil {
		notFound(w, r, "SubjectNotFound")
		return
	}

	candidates, err := h.topics.EnhanceSubjectTopics(r.Context(), &exam.Data, name, subject.Topics)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var added, topics []string
	_, err = h.exams.UpdateData(r.Context(), exam.ID, exam.UserID, func(d *models.ExamData) error {
		s := d.Subject(name)
		if s == nil {
			return errSubjectNotFound
		}
		added = d.AddTopics(name, candidates)
		topics = s.Topics
		return nil
	})
	if errors.Is(err, errSubjectNotFound) {
		notFound(w, r, "SubjectNotFound")
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject": name,
		"added":   added,
		"topics":  topics,
	})
}

func (h *ExamHandler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req models.GeneratePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AvailableHours < minPlanHours || req.AvailableHours > maxPlanHours {
		validationFailed(w, r, "available_hours", "HoursOutOfRange")
		return
	}

	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	h.enqueue(w, r, models.JobDailyPlan, exam.ID, models.DailyPlanConfig{AvailableHours: req.AvailableHours})
}

func (h *ExamHandler) ActivePlan(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	plan := exam.Data.ActivePlan(h.now())
	if plan == nil {
		notFound(w, r, "NoActivePlan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plan":              plan,
		"completed_minutes": plan.CompletedMinutes(),
	})
}

func (h *ExamHandler) ToggleSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	planID, slotID := chi.URLParam(r, "planId"), chi.URLParam(r, "slotId")

	var completed bool
	_, err := h.exams.UpdateData(r.Context(), id, middleware.GetUserID(r.Context()), func(d *models.ExamData) error {
		var err error
		completed, err = d.ToggleSlot(planID, slotID)
		return err
	})
	switch {
	case errors.Is(err, models.ErrPlanNotFound):
		notFound(w, r, "PlanNotFound")
	case errors.Is(err, models.ErrSlotNotFound):
		notFound(w, r, "SlotNotFound")
	case err != nil:
		handleServiceError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"plan_id":   planID,
			"slot_id":   slotID,
			"completed": completed,
		})
	}
}

func (h *ExamHandler) GenerateSimulation(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateSimulationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = defaultQuestionCount
	}
	if req.Count < 1 || req.Count > maxQuestionCount {
		validationFailed(w, r, "count", "CountOutOfRange")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	req.Subject = strings.TrimSpace(req.Subject)
	req.StudyContent = strings.TrimSpace(req.StudyContent)

	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	if req.Subject != "" && exam.Data.Subject(req.Subject) == nil {
		notFound(w, r, "SubjectNotFound")
		return
	}
	h.enqueue(w, r, models.JobSimulationGeneration, exam.ID, req)
}

// ImportPastExam schedules the search for a real past exam. Without a query
// the exam title is searched.
func (h *ExamHandler) ImportPastExam(w http.ResponseWriter, r *http.Request) {
	var req models.PastExamRequest
	if !decodeBody(w, r, &req) {
		return
	}

	exam, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = exam.Data.Title
	}
	h.enqueue(w, r, models.JobPastExamImport, exam.ID, models.PastExamConfig{Query: query})
}

func (h *ExamHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	_, snap, err := h.exams.FindSimulation(r.Context(), id, middleware.GetUserID(r.Context()), chi.URLParam(r, "simId"))
	if errors.Is(err, models.ErrSimulationNotFound) {
		notFound(w, r, "SimulationNotFound")
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

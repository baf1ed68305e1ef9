package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"concurseiro-backend/internal/metrics"
	"concurseiro-backend/internal/models"
)

// ExamAnalysis is the result of researching an exam announcement.
type ExamAnalysis struct {
	Data    models.ExamData `json:"data"`
	Sources []models.Source `json:"sources"`
}

// ContentService turns exam context into prompts, calls the generator and
// turns the answers back into validated domain values.
type ContentService struct {
	gen      Generator
	cache    *redis.Client
	cacheTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewContentService(gen Generator, cache *redis.Client, cacheTTL time.Duration, log *zap.Logger) *ContentService {
	return &ContentService{
		gen:      gen,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}
}

func (s *ContentService) generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	start := time.Now()
	out, err := s.gen.Generate(ctx, req)
	metrics.ContentDuration.WithLabelValues(req.Op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ContentCalls.WithLabelValues(req.Op, "unavailable").Inc()
		s.log.Error("content call failed", zap.String("op", req.Op), zap.Error(err))
		return nil, err
	}
	metrics.ContentCalls.WithLabelValues(req.Op, "ok").Inc()
	return out, nil
}

// text runs a free-text call; an empty answer is a GenerationError.
func (s *ContentService) text(ctx context.Context, req GenerateRequest) (string, error) {
	out, err := s.generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", &GenerationError{Op: req.Op, Reason: "empty response"}
	}
	return text, nil
}

func (s *ContentService) recordInvalid(op string, err error) {
	metrics.ContentCalls.WithLabelValues(op, "invalid").Inc()
	s.log.Warn("content output rejected", zap.String("op", op), zap.Error(err))
}

func analysisCacheKey(name string) string {
	return "exam_analysis:" + strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// AnalyzeExam researches an exam by name. Results are cached in Redis.
func (s *ContentService) AnalyzeExam(ctx context.Context, name string) (*ExamAnalysis, error) {
	const op = "analyze_exam"
	key := analysisCacheKey(name)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var analysis ExamAnalysis
			if json.Unmarshal(cached, &analysis) == nil {
				metrics.ContentCalls.WithLabelValues(op, "cached").Inc()
				return &analysis, nil
			}
		}
	}

	out, err := s.generate(ctx, GenerateRequest{
		Op:          op,
		Tier:        TierSearch,
		Prompt:      buildExamAnalysisPrompt(name),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	var raw llmExam
	if err := DecodeJSON(op, out.Text, &raw); err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}
	if strings.TrimSpace(raw.Title) == "" {
		err := &GenerationError{Op: op, Reason: "missing exam title"}
		s.recordInvalid(op, err)
		return nil, err
	}

	analysis := &ExamAnalysis{Data: raw.toExamData(out.Sources), Sources: out.Sources}
	if analysis.Sources == nil {
		analysis.Sources = []models.Source{}
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(analysis); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
				s.log.Warn("failed to cache exam analysis", zap.Error(err))
			}
		}
	}
	return analysis, nil
}

// GetSubjectsForRole researches the syllabus of one role in free text and
// then structures it with a strict schema.
func (s *ContentService) GetSubjectsForRole(ctx context.Context, examTitle, organization, role string) ([]models.Subject, error) {
	const op = "subjects_for_role"

	research, err := s.text(ctx, GenerateRequest{
		Op:          op,
		Tier:        TierSearch,
		Prompt:      buildSubjectsResearchPrompt(examTitle, organization, role),
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.generate(ctx, GenerateRequest{
		Op:          op,
		Tier:        TierSearch,
		Prompt:      buildSubjectsStructurePrompt(research, role),
		Temperature: 0.1,
		Shape:       ShapeSubjects,
	})
	if err != nil {
		return nil, err
	}

	var raw []llmSubject
	if err := DecodeList(op, out.Text, &raw); err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}
	subjects := normalizeSubjects(raw)
	if len(subjects) == 0 {
		err := &GenerationError{Op: op, Reason: "no subjects"}
		s.recordInvalid(op, err)
		return nil, err
	}
	return subjects, nil
}

// EnhanceSubjectTopics asks for topics missing from currentTopics. Output
// that cannot be parsed yields an empty list; callers still de-duplicate.
func (s *ContentService) EnhanceSubjectTopics(ctx context.Context, exam *models.ExamData, subject string, currentTopics []string) ([]string, error) {
	const op = "enhance_topics"

	out, err := s.generate(ctx, GenerateRequest{
		Op:          op,
		Tier:        TierSearch,
		Prompt:      buildEnhanceTopicsPrompt(exam, subject, currentTopics),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	var topics []string
	if err := DecodeList(op, out.Text, &topics); err != nil {
		s.recordInvalid(op, err)
		return []string{}, nil
	}
	return topics, nil
}

// GetExamBlueprint describes the real exam layout. Failures return "" and
// callers fall back to importance weighting.
func (s *ContentService) GetExamBlueprint(ctx context.Context, examTitle, organization, role string, totalQuestions int) string {
	text, err := s.text(ctx, GenerateRequest{
		Op:          "exam_blueprint",
		Tier:        TierSearch,
		Prompt:      buildBlueprintPrompt(examTitle, organization, role, totalQuestions),
		Temperature: 0.2,
	})
	if err != nil {
		return ""
	}
	return text
}

// GenerateSimulationQuestions returns exactly p.Count validated questions.
func (s *ContentService) GenerateSimulationQuestions(ctx context.Context, p SimulationParams) ([]models.Question, error) {
	const op = "generate_simulation"
	if p.Topic == "" {
		p.Topic = models.DefaultTopic
	}

	prompt, tier := buildSimulationPrompt(p)
	out, err := s.generate(ctx, GenerateRequest{
		Op:          op,
		Tier:        tier,
		Prompt:      prompt,
		Temperature: 0.5,
		Shape:       ShapeQuestions,
	})
	if err != nil {
		return nil, err
	}

	var raw []llmQuestion
	if err := DecodeList(op, out.Text, &raw); err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}
	questions, err := validateQuestions(op, raw, p.Count, p.Topic)
	if err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}
	return questions, nil
}

func (s *ContentService) AnalyzeQuestionError(ctx context.Context, q models.Question, userOptionLabel, examContext string) (string, error) {
	return s.text(ctx, GenerateRequest{
		Op:          "analyze_question_error",
		Tier:        TierPrecision,
		Prompt:      buildErrorAnalysisPrompt(q, userOptionLabel, examContext),
		Temperature: 0.4,
	})
}

// AskQuestionTutor answers a doubt about one question. While isAnswered is
// false the prompt carries no answer key.
func (s *ContentService) AskQuestionTutor(ctx context.Context, q models.Question, query string, isAnswered bool) (string, error) {
	return s.text(ctx, GenerateRequest{
		Op:          "question_tutor",
		Tier:        TierSimulation,
		Prompt:      buildQuestionTutorPrompt(q, query, isAnswered),
		Temperature: 0.6,
	})
}

// FindPastExamQuestions recovers a real past exam. Malformed questions are
// dropped; an exam with none left is an error.
func (s *ContentService) FindPastExamQuestions(ctx context.Context, query string) (*models.PastExam, error) {
	const op = "past_exam"

	out, err := s.generate(ctx, GenerateRequest{
		Op:          op,
		Tier:        TierSearch,
		Prompt:      buildPastExamPrompt(query),
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Meta struct {
			Title string     `json:"title"`
			Year  flexString `json:"year"`
			Org   string     `json:"org"`
		} `json:"meta"`
		Questions []llmQuestion `json:"questions"`
	}
	if err := DecodeJSON(op, out.Text, &raw); err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}

	questions := keepValidQuestions(raw.Questions, models.DefaultTopic)
	if len(questions) == 0 {
		err := &GenerationError{Op: op, Reason: "no usable questions found"}
		s.recordInvalid(op, err)
		return nil, err
	}

	exam := &models.PastExam{
		Title:     orDefault(raw.Meta.Title, query),
		Year:      orDefault(string(raw.Meta.Year), "Ano desconhecido"),
		Org:       orDefault(raw.Meta.Org, "Banca desconhecida"),
		Questions: questions,
	}
	if dropped := len(raw.Questions) - len(questions); dropped > 0 {
		s.log.Info("dropped malformed past exam questions", zap.Int("dropped", dropped), zap.Int("kept", len(questions)))
	}
	return exam, nil
}

func (s *ContentService) GenerateStudyContent(ctx context.Context, exam *models.ExamData, subject, topic string) (*models.StudyContent, error) {
	text, err := s.text(ctx, GenerateRequest{
		Op:          "study_content",
		Tier:        TierSearch,
		Prompt:      buildStudyContentPrompt(exam, subject, topic),
		Temperature: 0.25,
	})
	if err != nil {
		return nil, err
	}
	return &models.StudyContent{Subject: subject, Title: topic, Content: text}, nil
}

func (s *ContentService) ExpandStudyContent(ctx context.Context, exam *models.ExamData, topic, currentContent string) (string, error) {
	return s.text(ctx, GenerateRequest{
		Op:          "expand_content",
		Tier:        TierSearch,
		Prompt:      buildExpandContentPrompt(exam, topic, currentContent),
		Temperature: 0.3,
	})
}

func (s *ContentService) AskStudyTutor(ctx context.Context, currentContent, question string) (string, error) {
	return s.text(ctx, GenerateRequest{
		Op:          "study_tutor",
		Tier:        TierSimulation,
		Prompt:      buildStudyTutorPrompt(currentContent, question),
		Temperature: 0.7,
	})
}

func (s *ContentService) GenerateStepByStep(ctx context.Context, topic, currentContent string) (string, error) {
	return s.text(ctx, GenerateRequest{
		Op:          "step_by_step",
		Tier:        TierSimulation,
		Prompt:      buildStepByStepPrompt(topic, currentContent),
		Temperature: 0.4,
	})
}

// GenerateDailyPlan builds today's plan. Slot ids are assigned locally and
// every slot starts incomplete.
func (s *ContentService) GenerateDailyPlan(ctx context.Context, exam *models.ExamData, availableHours float64) (*models.DailyPlan, error) {
	const op = "daily_plan"

	out, err := s.generate(ctx, GenerateRequest{
		Op:          op,
		Tier:        TierSearch,
		Prompt:      buildDailyPlanPrompt(exam, availableHours),
		Temperature: 0.4,
		Shape:       ShapePlan,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Slots []llmSlot `json:"slots"`
	}
	if err := DecodeJSON(op, out.Text, &raw); err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}

	plan, err := normalizePlan(op, raw.Slots, availableHours, s.now())
	if err != nil {
		s.recordInvalid(op, err)
		return nil, err
	}
	return plan, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// ExamContext is the short exam description used in prompts.
func ExamContext(exam *models.ExamData) string {
	if exam.SelectedRole != "" {
		return fmt.Sprintf("%s - %s", exam.Title, exam.SelectedRole)
	}
	return exam.Title
}

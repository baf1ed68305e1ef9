package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"concurseiro-backend/internal/models"
)

// flexString accepts a JSON string or number; models are loose about
// fields like "questionCount".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(int(n))
	return nil
}

type llmQuestion struct {
	ID                 flexString `json:"id"`
	Text               string     `json:"text"`
	Options            []string   `json:"options"`
	CorrectOptionIndex flexInt    `json:"correctOptionIndex"`
	Explanation        string     `json:"explanation"`
	Topic              string     `json:"topic"`
}

type llmSubject struct {
	Name          string     `json:"name"`
	Importance    string     `json:"importance"`
	Topics        []string   `json:"topics"`
	QuestionCount flexString `json:"questionCount"`
}

type llmSlot struct {
	Subject         string  `json:"subject"`
	Topic           string  `json:"topic"`
	ActivityType    string  `json:"activityType"`
	DurationMinutes flexInt `json:"durationMinutes"`
	Notes           string  `json:"notes"`
}

type llmExam struct {
	Title                   string            `json:"title"`
	Organization            string            `json:"organization"`
	EstimatedVacancies      flexString        `json:"estimatedVacancies"`
	RegistrationPeriod      string            `json:"registrationPeriod"`
	Fee                     flexString        `json:"fee"`
	ExamDate                string            `json:"examDate"`
	Summary                 string            `json:"summary"`
	PreviousContestAnalysis string            `json:"previousContestAnalysis"`
	AvailableRoles          []string          `json:"availableRoles"`
	Subjects                []llmSubject      `json:"subjects"`
	Strategies              []models.Strategy `json:"strategies"`
}

// checkQuestion reports why q cannot be used, or "" if it can.
func checkQuestion(q llmQuestion) string {
	if strings.TrimSpace(q.Text) == "" {
		return "empty question text"
	}
	if len(q.Options) != models.OptionsPerQuestion {
		return fmt.Sprintf("expected %d options, got %d", models.OptionsPerQuestion, len(q.Options))
	}
	if int(q.CorrectOptionIndex) < 0 || int(q.CorrectOptionIndex) >= len(q.Options) {
		return fmt.Sprintf("correct option index %d out of range", q.CorrectOptionIndex)
	}
	return ""
}

func toQuestion(q llmQuestion, fallbackTopic string) models.Question {
	topic := strings.TrimSpace(q.Topic)
	if topic == "" {
		topic = fallbackTopic
	}
	return models.Question{
		ID:                 uuid.NewString(),
		Text:               strings.TrimSpace(q.Text),
		Options:            q.Options,
		CorrectOptionIndex: int(q.CorrectOptionIndex),
		Explanation:        strings.TrimSpace(q.Explanation),
		Topic:              topic,
	}
}

// validateQuestions requires exactly count well-formed questions. Ids are
// reassigned because models reuse ids like "1" across calls and answers are
// keyed by question id.
func validateQuestions(op string, raw []llmQuestion, count int, fallbackTopic string) ([]models.Question, error) {
	if len(raw) != count {
		return nil, &GenerationError{Op: op, Reason: fmt.Sprintf("expected %d questions, got %d", count, len(raw))}
	}
	out := make([]models.Question, len(raw))
	for i, q := range raw {
		if reason := checkQuestion(q); reason != "" {
			return nil, &GenerationError{Op: op, Reason: fmt.Sprintf("question %d: %s", i+1, reason)}
		}
		out[i] = toQuestion(q, fallbackTopic)
	}
	return out, nil
}

// keepValidQuestions drops malformed questions instead of failing; used for
// past exams where the number of recovered questions is not known upfront.
func keepValidQuestions(raw []llmQuestion, fallbackTopic string) []models.Question {
	out := []models.Question{}
	for _, q := range raw {
		if checkQuestion(q) != "" {
			continue
		}
		out = append(out, toQuestion(q, fallbackTopic))
	}
	return out
}

func normalizeImportance(s string) models.Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alta", "high":
		return models.ImportanceHigh
	case "baixa", "low":
		return models.ImportanceLow
	default:
		return models.ImportanceMedium
	}
}

func normalizeSubjects(raw []llmSubject) []models.Subject {
	out := []models.Subject{}
	for _, s := range raw {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		out = append(out, models.Subject{
			Name:          name,
			Importance:    normalizeImportance(s.Importance),
			Topics:        models.MergeTopics(nil, s.Topics),
			QuestionCount: strings.TrimSpace(string(s.QuestionCount)),
		})
	}
	return out
}

// normalizePlan builds today's plan from generated slots. Slot ids from the
// model are ignored and every slot starts incomplete.
func normalizePlan(op string, raw []llmSlot, availableHours float64, now time.Time) (*models.DailyPlan, error) {
	slots := []models.StudySlot{}
	for _, s := range raw {
		activity := models.ActivityType(strings.ToUpper(strings.TrimSpace(s.ActivityType)))
		if !activity.Valid() || s.DurationMinutes <= 0 || strings.TrimSpace(s.Subject) == "" {
			continue
		}
		slots = append(slots, models.StudySlot{
			ID:              uuid.NewString(),
			Subject:         strings.TrimSpace(s.Subject),
			Topic:           strings.TrimSpace(s.Topic),
			ActivityType:    activity,
			DurationMinutes: int(s.DurationMinutes),
			Notes:           strings.TrimSpace(s.Notes),
			Completed:       false,
		})
	}
	if len(slots) == 0 {
		return nil, &GenerationError{Op: op, Reason: "plan has no usable slots"}
	}

	return &models.DailyPlan{
		ID:          uuid.NewString(),
		Date:        now.Format(models.PlanDateLayout),
		TargetHours: availableHours,
		Slots:       slots,
	}, nil
}

func (e llmExam) toExamData(sources []models.Source) models.ExamData {
	return models.ExamData{
		Title:                   strings.TrimSpace(e.Title),
		Organization:            strings.TrimSpace(e.Organization),
		EstimatedVacancies:      string(e.EstimatedVacancies),
		RegistrationPeriod:      e.RegistrationPeriod,
		Fee:                     string(e.Fee),
		ExamDate:                e.ExamDate,
		Summary:                 e.Summary,
		PreviousContestAnalysis: e.PreviousContestAnalysis,
		AvailableRoles:          models.MergeTopics(nil, e.AvailableRoles),
		Subjects:                normalizeSubjects(e.Subjects),
		Strategies:              e.Strategies,
		Sources:                 sources,
		CompletedTopics:         []string{},
		SimulationHistory:       []models.SimulationResult{},
		DailyPlans:              []models.DailyPlan{},
	}
}

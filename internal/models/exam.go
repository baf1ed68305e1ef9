package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Importance string

const (
	ImportanceHigh   Importance = "Alta"
	ImportanceMedium Importance = "Média"
	ImportanceLow    Importance = "Baixa"
)

var (
	ErrPlanNotFound       = errors.New("plan not found")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrSimulationNotFound = errors.New("simulation not found")
)

type Subject struct {
	Name          string     `json:"name"`
	Importance    Importance `json:"importance"`
	Topics        []string   `json:"topics"`
	QuestionCount string     `json:"question_count,omitempty"`
}

type Strategy struct {
	Phase  string `json:"phase"`
	Advice string `json:"advice"`
}

type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ExamData is everything tracked for one public exam: the announcement
// metadata plus the candidate's checklist, simulations and study plans.
type ExamData struct {
	Title                   string             `json:"title"`
	Organization            string             `json:"organization"`
	EstimatedVacancies      string             `json:"estimated_vacancies"`
	RegistrationPeriod      string             `json:"registration_period"`
	Fee                     string             `json:"fee"`
	ExamDate                string             `json:"exam_date"`
	Summary                 string             `json:"summary"`
	PreviousContestAnalysis string             `json:"previous_contest_analysis"`
	AvailableRoles          []string           `json:"available_roles,omitempty"`
	SelectedRole            string             `json:"selected_role,omitempty"`
	Subjects                []Subject          `json:"subjects"`
	Strategies              []Strategy         `json:"strategies,omitempty"`
	Sources                 []Source           `json:"sources,omitempty"`
	CompletedTopics         []string           `json:"completed_topics"`
	SimulationHistory       []SimulationResult `json:"simulation_history"`
	DailyPlans              []DailyPlan        `json:"daily_plans"`
}

// Exam is the persisted record wrapping ExamData.
type Exam struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Data      ExamData  `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExamSummary is the list view of an exam.
type ExamSummary struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Organization    string    `json:"organization"`
	SelectedRole    string    `json:"selected_role,omitempty"`
	SubjectCount    int       `json:"subject_count"`
	CompletedTopics int       `json:"completed_topics"`
	Simulations     int       `json:"simulations"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (e *Exam) Summary() ExamSummary {
	return ExamSummary{
		ID:              e.ID,
		Title:           e.Data.Title,
		Organization:    e.Data.Organization,
		SelectedRole:    e.Data.SelectedRole,
		SubjectCount:    len(e.Data.Subjects),
		CompletedTopics: len(e.Data.CompletedTopics),
		Simulations:     len(e.Data.SimulationHistory),
		UpdatedAt:       e.UpdatedAt,
	}
}

// Normalize replaces nil collections so the aggregate always serializes
// them as arrays.
func (d *ExamData) Normalize() {
	if d.Subjects == nil {
		d.Subjects = []Subject{}
	}
	if d.CompletedTopics == nil {
		d.CompletedTopics = []string{}
	}
	if d.SimulationHistory == nil {
		d.SimulationHistory = []SimulationResult{}
	}
	if d.DailyPlans == nil {
		d.DailyPlans = []DailyPlan{}
	}
}

func (d *ExamData) IsTopicCompleted(topic string) bool {
	for _, t := range d.CompletedTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// ToggleTopic flips the completion mark of a topic and returns the new state.
func (d *ExamData) ToggleTopic(topic string) bool {
	for i, t := range d.CompletedTopics {
		if t == topic {
			d.CompletedTopics = append(d.CompletedTopics[:i], d.CompletedTopics[i+1:]...)
			return false
		}
	}
	d.CompletedTopics = append(d.CompletedTopics, topic)
	return true
}

func (d *ExamData) Subject(name string) *Subject {
	for i := range d.Subjects {
		if d.Subjects[i].Name == name {
			return &d.Subjects[i]
		}
	}
	return nil
}

// FindSimulation returns a copy of the stored snapshot with the given id.
func (d *ExamData) FindSimulation(id string) (SimulationResult, bool) {
	for _, s := range d.SimulationHistory {
		if s.ID == id {
			return s, true
		}
	}
	return SimulationResult{}, false
}

// UpsertSimulation stores a snapshot, replacing any earlier snapshot with the
// same id. A snapshot older than the stored one is dropped and false is returned.
func (d *ExamData) UpsertSimulation(snap SimulationResult) bool {
	for i, s := range d.SimulationHistory {
		if s.ID != snap.ID {
			continue
		}
		if snap.Date.Before(s.Date) {
			return false
		}
		d.SimulationHistory[i] = snap
		return true
	}
	d.SimulationHistory = append(d.SimulationHistory, snap)
	return true
}

// ActivePlan returns the most recent plan if it was generated for today.
func (d *ExamData) ActivePlan(now time.Time) *DailyPlan {
	if len(d.DailyPlans) == 0 {
		return nil
	}
	p := &d.DailyPlans[len(d.DailyPlans)-1]
	if !p.IsFor(now) {
		return nil
	}
	return p
}

// ToggleSlot flips the completion mark of one slot and returns the new state.
func (d *ExamData) ToggleSlot(planID, slotID string) (bool, error) {
	for i := range d.DailyPlans {
		if d.DailyPlans[i].ID != planID {
			continue
		}
		slots := d.DailyPlans[i].Slots
		for j := range slots {
			if slots[j].ID == slotID {
				slots[j].Completed = !slots[j].Completed
				return slots[j].Completed, nil
			}
		}
		return false, ErrSlotNotFound
	}
	return false, ErrPlanNotFound
}

// SelectRole switches the target role and replaces the subject list.
func (d *ExamData) SelectRole(role string, subjects []Subject) {
	d.SelectedRole = role
	d.Subjects = subjects
}

// AddTopics appends the topics of candidates that subject does not already
// have and returns the ones that were added.
func (d *ExamData) AddTopics(subjectName string, candidates []string) []string {
	s := d.Subject(subjectName)
	if s == nil {
		return nil
	}
	added := MergeTopics(s.Topics, candidates)
	s.Topics = append(s.Topics, added...)
	return added
}

// MergeTopics returns the candidates not present in current, comparing case-
// and whitespace-insensitively. Duplicates inside candidates are collapsed.
func MergeTopics(current, candidates []string) []string {
	seen := make(map[string]bool, len(current)+len(candidates))
	for _, t := range current {
		seen[topicKey(t)] = true
	}

	added := []string{}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := topicKey(c)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		added = append(added, c)
	}
	return added
}

func topicKey(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}

type AnalyzeExamRequest struct {
	Query string `json:"query"`
}

type SelectRoleRequest struct {
	Role string `json:"role"`
}

type ToggleTopicRequest struct {
	Topic string `json:"topic"`
}

type EnhanceSubjectRequest struct {
	Subject string `json:"subject"`
}

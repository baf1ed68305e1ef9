package models

import "time"

type SimulationStatus string

const (
	StatusInProgress SimulationStatus = "IN_PROGRESS"
	StatusCompleted  SimulationStatus = "COMPLETED"
)

// DefaultTopic labels simulations that are not scoped to a single topic.
const DefaultTopic = "Geral"

// OptionsPerQuestion is the fixed number of alternatives (A-E) of every question.
const OptionsPerQuestion = 5

type Question struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correct_option_index"`
	Explanation        string   `json:"explanation"`
	Topic              string   `json:"topic"`
}

type UserAnswer struct {
	QuestionID          string `json:"question_id"`
	SelectedOptionIndex int    `json:"selected_option_index"`
	IsCorrect           bool   `json:"is_correct"`
}

// SimulationResult is a self-contained snapshot of one simulation run.
type SimulationResult struct {
	ID             string           `json:"id"`
	ExamTitle      string           `json:"exam_title"`
	Date           time.Time        `json:"date"`
	Topic          string           `json:"topic"`
	Score          int              `json:"score"`
	TotalQuestions int              `json:"total_questions"`
	Questions      []Question       `json:"questions"`
	UserAnswers    []UserAnswer     `json:"user_answers"`
	Status         SimulationStatus `json:"status"`
}

// AnswerFor returns the recorded answer for a question id.
func (r *SimulationResult) AnswerFor(questionID string) (UserAnswer, bool) {
	for _, a := range r.UserAnswers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return UserAnswer{}, false
}

func (r *SimulationResult) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// OptionLabel maps a 0-based option index to its letter (0 -> "A").
func OptionLabel(index int) string {
	if index < 0 || index >= 26 {
		return "?"
	}
	return string(rune('A' + index))
}

// Simulation requests

type GenerateSimulationRequest struct {
	Count        int    `json:"count"`
	Topic        string `json:"topic"`
	Subject      string `json:"subject"`
	StudyContent string `json:"study_content"`
	FullExam     bool   `json:"full_exam"`
}

type PastExamRequest struct {
	Query string `json:"query"`
}

type PastExam struct {
	Title     string     `json:"title"`
	Year      string     `json:"year"`
	Org       string     `json:"org"`
	Questions []Question `json:"questions"`
}

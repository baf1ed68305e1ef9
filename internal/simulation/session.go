// Package simulation runs a multiple-choice practice simulation: it steps
// through the questions, records answers, resumes from saved answers and
// emits self-contained snapshots after every state change worth keeping.
package simulation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"concurseiro-backend/internal/models"
)

type Phase string

const (
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseFinished   Phase = "FINISHED"
)

var (
	ErrNoQuestions      = errors.New("simulation has no questions")
	ErrRequestInFlight  = errors.New("a request of this kind is already in flight")
	ErrNotAnswered      = errors.New("current question has not been answered")
	ErrEmptyQuery       = errors.New("query is empty")
	ErrSessionFinished  = errors.New("simulation is finished")
	ErrOptionOutOfRange = errors.New("option index out of range")
)

// Saver receives snapshots. Implementations must not block the caller.
type Saver interface {
	SaveSnapshot(snap models.SimulationResult)
}

// Tutor produces explanatory text for a single question.
type Tutor interface {
	AnalyzeQuestionError(ctx context.Context, q models.Question, userOptionLabel, examContext string) (string, error)
	AskQuestionTutor(ctx context.Context, q models.Question, query string, isAnswered bool) (string, error)
}

type SaverFunc func(snap models.SimulationResult)

func (f SaverFunc) SaveSnapshot(snap models.SimulationResult) { f(snap) }

type Options struct {
	ID           string
	ExamTitle    string
	Topic        string
	Questions    []models.Question
	PriorAnswers []models.UserAnswer

	Saver  Saver
	Tutor  Tutor
	Logger *zap.Logger
	Now    func() time.Time

	AnalysisFallback string
	TutorFallback    string
}

// Assist is the outcome of an analysis or tutor request.
type Assist struct {
	QuestionIndex int    `json:"question_index"`
	Text          string `json:"text"`
	Fallback      bool   `json:"fallback"`
	Stale         bool   `json:"stale"`
}

type Session struct {
	mu sync.Mutex

	id        string
	examTitle string
	topic     string
	questions []models.Question

	answers  []models.UserAnswer
	answered map[string]int // question id -> index in answers
	score    int

	position     int
	selection    int
	hasSelection bool
	finished     bool

	analysisInFlight bool
	tutorInFlight    bool
	analysis         *Assist
	tutorReply       *Assist

	saver            Saver
	lastEmitted      *models.SimulationResult
	tutor            Tutor
	log              *zap.Logger
	now              func() time.Time
	analysisFallback string
	tutorFallback    string
}

// Start opens a session positioned at the first question without a prior
// answer, or at the first question in view-only mode when all are answered.
// Prior answers for unknown questions and repeated answers are dropped.
func Start(opts Options) (*Session, error) {
	if len(opts.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	s := &Session{
		id:               opts.ID,
		examTitle:        opts.ExamTitle,
		topic:            resolveTopic(opts.Topic, opts.Questions),
		questions:        opts.Questions,
		answered:         make(map[string]int, len(opts.Questions)),
		saver:            opts.Saver,
		tutor:            opts.Tutor,
		log:              opts.Logger,
		now:              opts.Now,
		analysisFallback: opts.AnalysisFallback,
		tutorFallback:    opts.TutorFallback,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.saver == nil {
		s.saver = SaverFunc(func(models.SimulationResult) {})
	}
	if s.tutor == nil {
		s.tutor = noTutor{}
	}

	known := make(map[string]bool, len(opts.Questions))
	for _, q := range opts.Questions {
		known[q.ID] = true
	}
	for _, a := range opts.PriorAnswers {
		if !known[a.QuestionID] {
			continue
		}
		if _, dup := s.answered[a.QuestionID]; dup {
			continue
		}
		s.answered[a.QuestionID] = len(s.answers)
		s.answers = append(s.answers, a)
		if a.IsCorrect {
			s.score++
		}
	}

	s.position = 0
	for i, q := range opts.Questions {
		if _, ok := s.answered[q.ID]; !ok {
			s.position = i
			break
		}
	}
	s.loadPosition()

	return s, nil
}

var errNoTutor = errors.New("no tutor configured")

type noTutor struct{}

func (noTutor) AnalyzeQuestionError(context.Context, models.Question, string, string) (string, error) {
	return "", errNoTutor
}

func (noTutor) AskQuestionTutor(context.Context, models.Question, string, bool) (string, error) {
	return "", errNoTutor
}

func resolveTopic(topic string, questions []models.Question) string {
	if t := strings.TrimSpace(topic); t != "" {
		return t
	}
	if len(questions) > 0 && strings.TrimSpace(questions[0].Topic) != "" {
		return questions[0].Topic
	}
	return models.DefaultTopic
}

func (s *Session) ID() string { return s.id }

// loadPosition restores the selection for the current question from history
// and clears the per-question assist results. Caller holds mu.
func (s *Session) loadPosition() {
	s.hasSelection = false
	s.selection = 0
	if a, ok := s.currentAnswer(); ok {
		s.selection = a.SelectedOptionIndex
		s.hasSelection = true
	}
	s.analysis = nil
	s.tutorReply = nil
}

func (s *Session) current() models.Question {
	return s.questions[s.position]
}

func (s *Session) currentAnswer() (models.UserAnswer, bool) {
	i, ok := s.answered[s.current().ID]
	if !ok {
		return models.UserAnswer{}, false
	}
	return s.answers[i], true
}

func (s *Session) isCurrentAnswered() bool {
	_, ok := s.answered[s.current().ID]
	return ok
}

// Select records a tentative choice. Ignored once the question is answered
// or the session is finished, like every other illegal transition. An option
// outside the question's range is malformed input rather than a transition
// and returns ErrOptionOutOfRange.
func (s *Session) Select(option int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return false, nil
	}
	if s.isCurrentAnswered() {
		return false, nil
	}
	if option < 0 || option >= len(s.current().Options) {
		return false, ErrOptionOutOfRange
	}
	s.selection = option
	s.hasSelection = true
	return true, nil
}

// Confirm answers the current question with the tentative choice and emits
// an IN_PROGRESS snapshot.
func (s *Session) Confirm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || !s.hasSelection || s.isCurrentAnswered() {
		return false
	}

	q := s.current()
	a := models.UserAnswer{
		QuestionID:          q.ID,
		SelectedOptionIndex: s.selection,
		IsCorrect:           s.selection == q.CorrectOptionIndex,
	}
	s.answered[q.ID] = len(s.answers)
	s.answers = append(s.answers, a)
	if a.IsCorrect {
		s.score++
	}

	s.emit(models.StatusInProgress)
	return true
}

// Advance moves to the next question, or finishes the simulation with a
// COMPLETED snapshot when the current question is the last one.
func (s *Session) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || !s.isCurrentAnswered() {
		return false
	}

	if s.position < len(s.questions)-1 {
		s.position++
		s.loadPosition()
		return true
	}

	s.finished = true
	s.analysis = nil
	s.tutorReply = nil
	s.emit(s.exitStatus())
	return true
}

// Exit pauses the simulation. The snapshot is COMPLETED when every question
// has been answered, IN_PROGRESS otherwise.
func (s *Session) Exit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return false
	}
	s.emit(s.exitStatus())
	return true
}

func (s *Session) exitStatus() models.SimulationStatus {
	if len(s.answers) == len(s.questions) {
		return models.StatusCompleted
	}
	return models.StatusInProgress
}

func (s *Session) emit(status models.SimulationStatus) {
	snap := s.snapshot(status)
	s.lastEmitted = &snap
	s.saver.SaveSnapshot(snap)
}

// snapshot copies everything so the receiver may keep it. Caller holds mu.
func (s *Session) snapshot(status models.SimulationStatus) models.SimulationResult {
	questions := make([]models.Question, len(s.questions))
	copy(questions, s.questions)
	answers := make([]models.UserAnswer, len(s.answers))
	copy(answers, s.answers)

	return models.SimulationResult{
		ID:             s.id,
		ExamTitle:      s.examTitle,
		Date:           s.now(),
		Topic:          s.topic,
		Score:          s.score,
		TotalQuestions: len(s.questions),
		Questions:      questions,
		UserAnswers:    answers,
		Status:         status,
	}
}

// Snapshot returns the current state without emitting it.
func (s *Session) Snapshot() models.SimulationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.exitStatus())
}

// LastEmitted returns the most recent snapshot handed to the saver, which
// may not have reached the store yet.
func (s *Session) LastEmitted() (models.SimulationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEmitted == nil {
		return models.SimulationResult{}, false
	}
	return *s.lastEmitted, true
}

// RequestErrorAnalysis asks the tutor to explain the answered current
// question. A failed call yields the fallback text and changes nothing else.
func (s *Session) RequestErrorAnalysis(ctx context.Context) (Assist, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return Assist{}, ErrSessionFinished
	}
	a, ok := s.currentAnswer()
	if !ok {
		s.mu.Unlock()
		return Assist{}, ErrNotAnswered
	}
	if s.analysisInFlight {
		s.mu.Unlock()
		return Assist{}, ErrRequestInFlight
	}
	s.analysisInFlight = true
	index, q, examTitle := s.position, s.current(), s.examTitle
	s.mu.Unlock()

	text, err := s.tutor.AnalyzeQuestionError(ctx, q, models.OptionLabel(a.SelectedOptionIndex), examTitle)
	result := Assist{QuestionIndex: index, Text: text}
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn("error analysis failed", zap.String("simulation_id", s.id), zap.Int("question", index), zap.Error(err))
		result.Text = s.analysisFallback
		result.Fallback = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisInFlight = false
	if s.finished || s.position != index {
		result.Stale = true
		return result, nil
	}
	s.analysis = &result
	return result, nil
}

// AskTutor answers a free-form question about the current question. While
// the question is unanswered the tutor is told to withhold the answer.
func (s *Session) AskTutor(ctx context.Context, query string) (Assist, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Assist{}, ErrEmptyQuery
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return Assist{}, ErrSessionFinished
	}
	if s.tutorInFlight {
		s.mu.Unlock()
		return Assist{}, ErrRequestInFlight
	}
	s.tutorInFlight = true
	index, q, isAnswered := s.position, s.current(), s.isCurrentAnswered()
	s.mu.Unlock()

	text, err := s.tutor.AskQuestionTutor(ctx, q, query, isAnswered)
	result := Assist{QuestionIndex: index, Text: text}
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn("question tutor failed", zap.String("simulation_id", s.id), zap.Int("question", index), zap.Error(err))
		result.Text = s.tutorFallback
		result.Fallback = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tutorInFlight = false
	if s.finished || s.position != index {
		result.Stale = true
		return result, nil
	}
	s.tutorReply = &result
	return result, nil
}

package simulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"concurseiro-backend/internal/models"
)

type recordingSaver struct {
	mu    sync.Mutex
	snaps []models.SimulationResult
}

func (r *recordingSaver) SaveSnapshot(snap models.SimulationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingSaver) last(t *testing.T) models.SimulationResult {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		t.Fatalf("expected at least one snapshot")
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type stubTutor struct {
	analysis     string
	reply        string
	err          error
	block        chan struct{}
	started      chan struct{}
	lastQuery    string
	lastAnswered bool
	lastLabel    string
}

func (s *stubTutor) wait() {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
}

func (s *stubTutor) AnalyzeQuestionError(ctx context.Context, q models.Question, label, examContext string) (string, error) {
	s.lastLabel = label
	s.wait()
	return s.analysis, s.err
}

func (s *stubTutor) AskQuestionTutor(ctx context.Context, q models.Question, query string, isAnswered bool) (string, error) {
	s.lastQuery = query
	s.lastAnswered = isAnswered
	s.wait()
	return s.reply, s.err
}

func makeQuestions(n int) []models.Question {
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			ID:                 fmt.Sprintf("q%d", i),
			Text:               fmt.Sprintf("Questão %d", i),
			Options:            []string{"a", "b", "c", "d", "e"},
			CorrectOptionIndex: i % 5,
			Explanation:        "porque sim",
			Topic:              "Crase",
		}
	}
	return qs
}

func start(t *testing.T, questions []models.Question, prior []models.UserAnswer, saver Saver, tutor Tutor) *Session {
	t.Helper()
	s, err := Start(Options{
		ID:               "sim-1",
		ExamTitle:        "TRF 1",
		Questions:        questions,
		PriorAnswers:     prior,
		Saver:            saver,
		Tutor:            tutor,
		Now:              func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		AnalysisFallback: "análise indisponível",
		TutorFallback:    "tutor indisponível",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func answer(t *testing.T, s *Session, option int) {
	t.Helper()
	if ok, err := s.Select(option); err != nil || !ok {
		t.Fatalf("Select(%d) = %v, %v", option, ok, err)
	}
	if !s.Confirm() {
		t.Fatalf("Confirm rejected")
	}
}

func wrongOption(q models.Question) int {
	return (q.CorrectOptionIndex + 1) % 5
}

func TestStart_NoQuestions(t *testing.T) {
	if _, err := Start(Options{ID: "x"}); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestStart_Positioning(t *testing.T) {
	qs := makeQuestions(4)
	tests := []struct {
		name     string
		prior    []models.UserAnswer
		position int
		score    int
		answered bool
	}{
		{"fresh", nil, 0, 0, false},
		{"first two answered", []models.UserAnswer{{QuestionID: "q0", IsCorrect: true}, {QuestionID: "q1"}}, 2, 1, false},
		{"gap in history", []models.UserAnswer{{QuestionID: "q1", IsCorrect: true}}, 0, 1, false},
		{"all answered is view-only at 0", []models.UserAnswer{
			{QuestionID: "q0", IsCorrect: true}, {QuestionID: "q1", IsCorrect: true},
			{QuestionID: "q2"}, {QuestionID: "q3", SelectedOptionIndex: 3, IsCorrect: true},
		}, 0, 3, true},
		{"unknown and duplicate answers dropped", []models.UserAnswer{
			{QuestionID: "zz", IsCorrect: true}, {QuestionID: "q0", IsCorrect: true}, {QuestionID: "q0", IsCorrect: true},
		}, 1, 1, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := start(t, qs, tc.prior, nil, nil)
			v := s.View()
			if v.Position != tc.position || v.Score != tc.score || v.IsAnswered != tc.answered {
				t.Fatalf("got position=%d score=%d answered=%v", v.Position, v.Score, v.IsAnswered)
			}
			if v.Phase != PhaseInProgress {
				t.Fatalf("expected IN_PROGRESS phase, got %s", v.Phase)
			}
		})
	}
}

func TestConfirm_EmitsInProgressSnapshot(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(3)
	s := start(t, qs, nil, saver, nil)

	answer(t, s, qs[0].CorrectOptionIndex)

	snap := saver.last(t)
	if snap.Status != models.StatusInProgress || snap.Score != 1 || len(snap.UserAnswers) != 1 || snap.TotalQuestions != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ID != "sim-1" || snap.ExamTitle != "TRF 1" || snap.Topic != "Crase" {
		t.Fatalf("unexpected snapshot metadata: %+v", snap)
	}
}

func TestConfirm_WithoutSelectionIsNoop(t *testing.T) {
	saver := &recordingSaver{}
	s := start(t, makeQuestions(2), nil, saver, nil)

	if s.Confirm() {
		t.Fatalf("confirm without selection must be rejected")
	}
	if saver.count() != 0 {
		t.Fatalf("no snapshot expected")
	}
}

func TestConfirm_TwiceIsNoop(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(2)
	s := start(t, qs, nil, saver, nil)

	answer(t, s, qs[0].CorrectOptionIndex)
	if s.Confirm() {
		t.Fatalf("second confirm must be rejected")
	}
	if saver.count() != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", saver.count())
	}
	if v := s.View(); v.Score != 1 || v.AnsweredCount != 1 {
		t.Fatalf("score or answers changed by second confirm: %+v", v)
	}
}

func TestSelect_IgnoredWhenAnswered(t *testing.T) {
	qs := makeQuestions(2)
	s := start(t, qs, nil, nil, nil)

	answer(t, s, 2)
	ok, err := s.Select(4)
	if ok || err != nil {
		t.Fatalf("select after answer should be ignored, got %v %v", ok, err)
	}
	if v := s.View(); *v.Selection != 2 {
		t.Fatalf("selection changed after answer: %d", *v.Selection)
	}
}

func TestSelect_OutOfRange(t *testing.T) {
	s := start(t, makeQuestions(1), nil, nil, nil)
	s.Select(2)
	if ok, err := s.Select(5); ok || !errors.Is(err, ErrOptionOutOfRange) {
		t.Fatalf("expected ErrOptionOutOfRange, got %v %v", ok, err)
	}
	if v := s.View(); v.Selection == nil || *v.Selection != 2 {
		t.Fatalf("malformed option must leave the selection alone, got %v", v.Selection)
	}

	s.Confirm()
	if ok, err := s.Select(-1); ok || err != nil {
		t.Fatalf("select on an answered question is a silent no-op, got %v %v", ok, err)
	}
}

func TestAdvance_BeforeConfirmIsNoop(t *testing.T) {
	s := start(t, makeQuestions(3), nil, nil, nil)
	s.Select(1)
	if s.Advance() {
		t.Fatalf("advance before confirm must be rejected")
	}
	if v := s.View(); v.Position != 0 {
		t.Fatalf("position moved: %d", v.Position)
	}
}

func TestScoreInvariant(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(8)
	s := start(t, qs, nil, saver, nil)

	for i, q := range qs {
		opt := q.CorrectOptionIndex
		if i%3 == 0 {
			opt = wrongOption(q)
		}
		answer(t, s, opt)

		snap := saver.last(t)
		correct := 0
		for _, a := range snap.UserAnswers {
			if a.IsCorrect {
				correct++
			}
		}
		if snap.Score != correct {
			t.Fatalf("score %d != correct answers %d", snap.Score, correct)
		}
		if len(snap.UserAnswers) > snap.TotalQuestions {
			t.Fatalf("more answers than questions")
		}
		s.Advance()
	}
}

func TestScenario_ExitAndResume(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(10)
	s := start(t, qs, nil, saver, nil)

	for i := 0; i < 5; i++ {
		answer(t, s, qs[i].CorrectOptionIndex)
		if !s.Advance() {
			t.Fatalf("advance %d rejected", i)
		}
	}
	if !s.Exit() {
		t.Fatalf("exit rejected")
	}

	snap := saver.last(t)
	if snap.Status != models.StatusInProgress || snap.Score != 5 || len(snap.UserAnswers) != 5 {
		t.Fatalf("unexpected exit snapshot: status=%s score=%d answers=%d", snap.Status, snap.Score, len(snap.UserAnswers))
	}

	resumed := start(t, snap.Questions, snap.UserAnswers, saver, nil)
	v := resumed.View()
	if v.Position != 5 || v.Score != 5 || v.IsAnswered {
		t.Fatalf("resume at wrong place: position=%d score=%d answered=%v", v.Position, v.Score, v.IsAnswered)
	}
	if resumed.Snapshot().Status != models.StatusInProgress {
		t.Fatalf("resumed simulation should still be in progress")
	}
}

func TestScenario_FinishAfterAllAnswered(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(10)
	s := start(t, qs, nil, saver, nil)

	for i, q := range qs {
		opt := q.CorrectOptionIndex
		if i >= 6 {
			opt = wrongOption(q)
		}
		answer(t, s, opt)
		if !s.Advance() {
			t.Fatalf("advance %d rejected", i)
		}
	}

	v := s.View()
	if v.Phase != PhaseFinished {
		t.Fatalf("expected FINISHED, got %s", v.Phase)
	}
	if v.Summary == nil || v.Summary.Score != 6 || v.Summary.TotalQuestions != 10 || v.Summary.Percentage != 60 {
		t.Fatalf("unexpected summary: %+v", v.Summary)
	}

	snap := saver.last(t)
	if snap.Status != models.StatusCompleted || snap.Score != 6 || snap.TotalQuestions != 10 || len(snap.UserAnswers) != 10 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}

	before := saver.count()
	if s.Advance() || s.Exit() || s.Confirm() {
		t.Fatalf("finished session must reject transitions")
	}
	if saver.count() != before {
		t.Fatalf("finished session must not emit snapshots")
	}
}

func TestExit_CompletedWhenAllAnswered(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(2)
	s := start(t, qs, nil, saver, nil)

	answer(t, s, 0)
	s.Advance()
	answer(t, s, 0)
	s.Exit()

	if snap := saver.last(t); snap.Status != models.StatusCompleted {
		t.Fatalf("exit with every question answered should be COMPLETED, got %s", snap.Status)
	}
	if v := s.View(); v.Phase != PhaseInProgress || v.Position != 1 {
		t.Fatalf("exit must not move the session: %+v", v)
	}
}

func TestAdvance_PrePopulatesFromHistory(t *testing.T) {
	qs := makeQuestions(3)
	prior := []models.UserAnswer{
		{QuestionID: "q0", SelectedOptionIndex: 4, IsCorrect: false},
		{QuestionID: "q1", SelectedOptionIndex: 1, IsCorrect: true},
		{QuestionID: "q2", SelectedOptionIndex: 2, IsCorrect: true},
	}
	s := start(t, qs, prior, nil, nil)

	v := s.View()
	if !v.IsAnswered || *v.Selection != 4 || *v.IsCorrect {
		t.Fatalf("view-only resume should show the recorded answer: %+v", v)
	}
	if !s.Advance() {
		t.Fatalf("advance over answered question rejected")
	}
	v = s.View()
	if v.Position != 1 || !v.IsAnswered || *v.Selection != 1 || v.Question.CorrectOptionIndex == nil {
		t.Fatalf("expected recorded answer for q1: %+v", v)
	}
}

func TestView_HidesAnswerKeyUntilAnswered(t *testing.T) {
	qs := makeQuestions(2)
	s := start(t, qs, nil, nil, nil)

	v := s.View()
	if v.Question.CorrectOptionIndex != nil || v.Question.Explanation != "" || v.IsCorrect != nil {
		t.Fatalf("answer key leaked before answering: %+v", v.Question)
	}

	answer(t, s, qs[0].CorrectOptionIndex)
	v = s.View()
	if v.Question.CorrectOptionIndex == nil || v.Question.Explanation == "" || !*v.IsCorrect {
		t.Fatalf("answer key missing after answering: %+v", v)
	}
}

func TestRequestErrorAnalysis(t *testing.T) {
	qs := makeQuestions(2)
	tutor := &stubTutor{analysis: "## Análise"}
	s := start(t, qs, nil, nil, tutor)

	if _, err := s.RequestErrorAnalysis(context.Background()); !errors.Is(err, ErrNotAnswered) {
		t.Fatalf("expected ErrNotAnswered, got %v", err)
	}

	answer(t, s, 3)
	got, err := s.RequestErrorAnalysis(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "## Análise" || got.Fallback || got.Stale {
		t.Fatalf("unexpected assist: %+v", got)
	}
	if tutor.lastLabel != "D" {
		t.Fatalf("expected user option label D, got %q", tutor.lastLabel)
	}
	if v := s.View(); v.Analysis == nil || v.Analysis.Text != "## Análise" {
		t.Fatalf("analysis not attached to current question")
	}

	s.Advance()
	if v := s.View(); v.Analysis != nil {
		t.Fatalf("analysis must be cleared when changing questions")
	}
}

func TestRequestErrorAnalysis_FailureUsesFallback(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(2)
	s := start(t, qs, nil, saver, &stubTutor{err: errors.New("boom")})

	answer(t, s, 0)
	before := s.Snapshot()
	got, err := s.RequestErrorAnalysis(context.Background())
	if err != nil {
		t.Fatalf("failure must not surface as error: %v", err)
	}
	if !got.Fallback || got.Text != "análise indisponível" {
		t.Fatalf("expected fallback text, got %+v", got)
	}
	after := s.Snapshot()
	if before.Score != after.Score || len(before.UserAnswers) != len(after.UserAnswers) || saver.count() != 1 {
		t.Fatalf("failed analysis changed simulation state")
	}
}

func TestAskTutor_WithholdFlagAndEmptyQuery(t *testing.T) {
	qs := makeQuestions(2)
	tutor := &stubTutor{reply: "dica"}
	s := start(t, qs, nil, nil, tutor)

	if _, err := s.AskTutor(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}

	if _, err := s.AskTutor(context.Background(), " qual a regra? "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tutor.lastAnswered || tutor.lastQuery != "qual a regra?" {
		t.Fatalf("tutor should be told the question is unanswered, got answered=%v query=%q", tutor.lastAnswered, tutor.lastQuery)
	}

	answer(t, s, 0)
	s.AskTutor(context.Background(), "por quê?")
	if !tutor.lastAnswered {
		t.Fatalf("tutor should be told the question is answered")
	}
}

func TestAskTutor_SingleFlightAndNonBlockingTransitions(t *testing.T) {
	saver := &recordingSaver{}
	qs := makeQuestions(3)
	tutor := &stubTutor{reply: "resposta", block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := start(t, qs, nil, saver, tutor)

	done := make(chan Assist, 1)
	go func() {
		res, _ := s.AskTutor(context.Background(), "ajuda")
		done <- res
	}()
	<-tutor.started

	if _, err := s.AskTutor(context.Background(), "de novo"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
	if !s.View().TutorPending {
		t.Fatalf("view should report the pending tutor call")
	}

	// Progression keeps working while the tutor call is pending.
	answer(t, s, qs[0].CorrectOptionIndex)
	if !s.Advance() {
		t.Fatalf("advance blocked by pending tutor call")
	}

	close(tutor.block)
	res := <-done
	if !res.Stale || res.QuestionIndex != 0 {
		t.Fatalf("expected stale result for question 0, got %+v", res)
	}
	if v := s.View(); v.TutorReply != nil || v.TutorPending {
		t.Fatalf("stale reply must not be attached to the new question: %+v", v.TutorReply)
	}

	tutor.block = nil
	tutor.started = nil
	if _, err := s.AskTutor(context.Background(), "outra"); err != nil {
		t.Fatalf("tutor should accept a new request after settling: %v", err)
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	s := start(t, makeQuestions(1), nil, nil, nil)

	m.Put(user, s)
	if got, ok := m.Get(user, "sim-1"); !ok || got != s {
		t.Fatalf("expected session to be registered")
	}
	if _, ok := m.Get(uuid.New(), "sim-1"); ok {
		t.Fatalf("sessions must be scoped per user")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Len())
	}
	m.Close(user, s)
	if _, ok := m.Get(user, "sim-1"); ok {
		t.Fatalf("expected session to be removed")
	}
	if _, ok := m.Pending(user, "sim-1"); ok {
		t.Fatalf("a session that never emitted must not park anything")
	}
}

func TestManager_ParksLastSnapshotUntilSettled(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var emitted []models.SimulationResult
	s, err := Start(Options{
		ID:        "sim-1",
		Questions: makeQuestions(3),
		Saver:     SaverFunc(func(snap models.SimulationResult) { emitted = append(emitted, snap) }),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Put(user, s)
	answer(t, s, 0)
	s.Advance()
	answer(t, s, 1)
	s.Exit()
	m.Close(user, s)

	pending, ok := m.Pending(user, "sim-1")
	if !ok || len(pending.UserAnswers) != 2 {
		t.Fatalf("expected the exit snapshot with 2 answers to be parked, got %v %+v", ok, pending)
	}

	m.Settle(user, emitted[0])
	if _, ok := m.Pending(user, "sim-1"); !ok {
		t.Fatalf("an older snapshot must not settle the parked one")
	}
	m.Settle(user, emitted[len(emitted)-1])
	if _, ok := m.Pending(user, "sim-1"); ok {
		t.Fatalf("expected the parked snapshot to be settled")
	}

	m.Close(user, s)
	m.Put(user, start(t, makeQuestions(3), nil, nil, nil))
	if _, ok := m.Pending(user, "sim-1"); ok {
		t.Fatalf("a reopened session must replace the parked snapshot")
	}
}

func TestResolveTopic(t *testing.T) {
	qs := []models.Question{{ID: "a", Topic: "Licitações"}}
	if got := resolveTopic(" Direito ", qs); got != "Direito" {
		t.Errorf("explicit topic should win, got %q", got)
	}
	if got := resolveTopic("", qs); got != "Licitações" {
		t.Errorf("expected first question topic, got %q", got)
	}
	if got := resolveTopic("", []models.Question{{ID: "a"}}); !strings.EqualFold(got, models.DefaultTopic) {
		t.Errorf("expected default topic, got %q", got)
	}
}

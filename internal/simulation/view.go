package simulation

// QuestionView is a question as shown to the candidate. The answer key is
// only present once the question has been answered.
type QuestionView struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	Topic              string   `json:"topic"`
	CorrectOptionIndex *int     `json:"correct_option_index,omitempty"`
	Explanation        string   `json:"explanation,omitempty"`
}

type Summary struct {
	Score          int `json:"score"`
	TotalQuestions int `json:"total_questions"`
	Percentage     int `json:"percentage"`
}

type View struct {
	SimulationID    string       `json:"simulation_id"`
	ExamTitle       string       `json:"exam_title"`
	Topic           string       `json:"topic"`
	Phase           Phase        `json:"phase"`
	Position        int          `json:"position"`
	TotalQuestions  int          `json:"total_questions"`
	AnsweredCount   int          `json:"answered_count"`
	Score           int          `json:"score"`
	Question        QuestionView `json:"question"`
	Selection       *int         `json:"selection"`
	IsAnswered      bool         `json:"is_answered"`
	IsCorrect       *bool        `json:"is_correct,omitempty"`
	Analysis        *Assist      `json:"analysis,omitempty"`
	TutorReply      *Assist      `json:"tutor_reply,omitempty"`
	AnalysisPending bool         `json:"analysis_pending"`
	TutorPending    bool         `json:"tutor_pending"`
	Summary         *Summary     `json:"summary,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.current()
	v := View{
		SimulationID:    s.id,
		ExamTitle:       s.examTitle,
		Topic:           s.topic,
		Phase:           PhaseInProgress,
		Position:        s.position,
		TotalQuestions:  len(s.questions),
		AnsweredCount:   len(s.answers),
		Score:           s.score,
		Question:        QuestionView{ID: q.ID, Text: q.Text, Options: q.Options, Topic: q.Topic},
		AnalysisPending: s.analysisInFlight,
		TutorPending:    s.tutorInFlight,
	}

	if s.hasSelection {
		sel := s.selection
		v.Selection = &sel
	}
	if a, ok := s.currentAnswer(); ok {
		correct := q.CorrectOptionIndex
		isCorrect := a.IsCorrect
		v.IsAnswered = true
		v.IsCorrect = &isCorrect
		v.Question.CorrectOptionIndex = &correct
		v.Question.Explanation = q.Explanation
	}
	if s.analysis != nil {
		a := *s.analysis
		v.Analysis = &a
	}
	if s.tutorReply != nil {
		t := *s.tutorReply
		v.TutorReply = &t
	}

	if s.finished {
		v.Phase = PhaseFinished
		v.Summary = &Summary{
			Score:          s.score,
			TotalQuestions: len(s.questions),
			Percentage:     percentage(s.score, len(s.questions)),
		}
	}
	return v
}

func percentage(n, total int) int {
	if total == 0 {
		return 0
	}
	return (200*n + total) / (2 * total)
}

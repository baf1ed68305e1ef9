package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"concurseiro-backend/internal/models"
)

type stubGenerator struct {
	responses []string
	err       error
	requests  []GenerateRequest
}

func (g *stubGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.responses) == 0 {
		return &Generation{}, nil
	}
	text := g.responses[0]
	g.responses = g.responses[1:]
	return &Generation{Text: text}, nil
}

func (g *stubGenerator) Close() error { return nil }

func newTestContentService(gen Generator) *ContentService {
	s := NewContentService(gen, nil, 0, zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }
	return s
}

func questionsJSON(n, options int) string {
	qs := make([]map[string]any, n)
	for i := range qs {
		opts := make([]string, options)
		for j := range opts {
			opts[j] = fmt.Sprintf("opção %d", j)
		}
		qs[i] = map[string]any{
			"id":                 "1",
			"text":               fmt.Sprintf("Questão %d", i),
			"options":            opts,
			"correctOptionIndex": i % options,
			"explanation":        "comentário",
			"topic":              "Crase",
		}
	}
	b, _ := json.Marshal(qs)
	return string(b)
}

func TestGenerateSimulationQuestions(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		count      int
		wantErr    bool
		wantGenErr bool
	}{
		{"exact count", questionsJSON(3, 5), 3, false, false},
		{"fenced output", "```json\n" + questionsJSON(2, 5) + "\n```", 2, false, false},
		{"too few questions", questionsJSON(2, 5), 3, true, true},
		{"four options", questionsJSON(3, 4), 3, true, true},
		{"not json", "não consegui gerar", 3, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestContentService(&stubGenerator{responses: []string{tc.response}})
			qs, err := svc.GenerateSimulationQuestions(context.Background(), SimulationParams{
				ExamContext: "TRF 1", Count: tc.count, Topic: "Crase",
			})

			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				var ge *GenerationError
				var pe *ParseError
				if tc.wantGenErr && !errors.As(err, &ge) {
					t.Fatalf("expected GenerationError, got %T", err)
				}
				if !tc.wantGenErr && !errors.As(err, &pe) {
					t.Fatalf("expected ParseError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(qs) != tc.count {
				t.Fatalf("expected %d questions, got %d", tc.count, len(qs))
			}
			seen := map[string]bool{}
			for _, q := range qs {
				if seen[q.ID] {
					t.Fatalf("question ids must be unique, got %q twice", q.ID)
				}
				seen[q.ID] = true
			}
		})
	}
}

func TestGenerateSimulationQuestions_OutOfRangeAnswer(t *testing.T) {
	raw := `[{"id":"1","text":"Q","options":["a","b","c","d","e"],"correctOptionIndex":5,"explanation":"","topic":"x"}]`
	svc := newTestContentService(&stubGenerator{responses: []string{raw}})

	_, err := svc.GenerateSimulationQuestions(context.Background(), SimulationParams{Count: 1, Topic: "x"})
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestGenerateSimulationQuestions_TierByBranch(t *testing.T) {
	subjects := []models.Subject{{Name: "Português", Importance: models.ImportanceHigh}}
	tests := []struct {
		name   string
		params SimulationParams
		tier   Tier
	}{
		{"topic drill", SimulationParams{Topic: "Crase"}, TierSimulation},
		{"study material", SimulationParams{Topic: "Crase", StudyContent: "material"}, TierPrecision},
		{"full exam", SimulationParams{Topic: models.DefaultTopic, Subjects: subjects}, TierPrecision},
		{"general without subjects", SimulationParams{}, TierSimulation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &stubGenerator{responses: []string{questionsJSON(1, 5)}}
			tc.params.Count = 1
			if _, err := newTestContentService(gen).GenerateSimulationQuestions(context.Background(), tc.params); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			req := gen.requests[0]
			if req.Tier != tc.tier || req.Shape != ShapeQuestions || req.Temperature != 0.5 {
				t.Fatalf("unexpected request: tier=%s shape=%d temp=%v", req.Tier, req.Shape, req.Temperature)
			}
		})
	}
}

func TestContentService_TransportFailure(t *testing.T) {
	down := &ServiceUnavailableError{Op: "x", Err: errors.New("connection refused")}
	svc := newTestContentService(&stubGenerator{err: down})

	_, err := svc.AnalyzeExam(context.Background(), "TRF 1")
	var se *ServiceUnavailableError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceUnavailableError, got %v", err)
	}
}

func TestAnalyzeExam(t *testing.T) {
	raw := "Segue a análise:\n```json\n" + `{
		"title": "TRF 1ª Região",
		"organization": "FGV",
		"estimatedVacancies": 120,
		"availableRoles": ["Técnico", "Analista", "técnico"],
		"subjects": [{"name": "Português", "importance": "alta", "topics": ["Crase", "crase ", "Regência"], "questionCount": 10}],
		"strategies": [{"phase": "Pré-Edital", "advice": "Comece pelo básico"}]
	}` + "\n```"
	svc := newTestContentService(&stubGenerator{responses: []string{raw}})

	got, err := svc.AnalyzeExam(context.Background(), "trf1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := got.Data
	if d.Title != "TRF 1ª Região" || d.Organization != "FGV" || d.EstimatedVacancies != "120" {
		t.Fatalf("unexpected metadata: %+v", d)
	}
	if len(d.AvailableRoles) != 2 {
		t.Fatalf("expected duplicate roles collapsed, got %v", d.AvailableRoles)
	}
	if len(d.Subjects) != 1 || d.Subjects[0].Importance != models.ImportanceHigh || len(d.Subjects[0].Topics) != 2 {
		t.Fatalf("unexpected subjects: %+v", d.Subjects)
	}
	if d.CompletedTopics == nil || d.SimulationHistory == nil || d.DailyPlans == nil {
		t.Fatalf("collections must be initialized")
	}
}

func TestAnalyzeExam_ParseError(t *testing.T) {
	svc := newTestContentService(&stubGenerator{responses: []string{"Não encontrei o edital."}})

	_, err := svc.AnalyzeExam(context.Background(), "xyz")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestGetSubjectsForRole_TwoStages(t *testing.T) {
	gen := &stubGenerator{responses: []string{
		"PORTUGUÊS: crase, regência. DIREITO ADMINISTRATIVO: atos.",
		`[{"name":"Português","importance":"Média","topics":["Crase","Regência"]},{"name":"Direito Administrativo","importance":"Alta","topics":["Atos"]}]`,
	}}

	subjects, err := newTestContentService(gen).GetSubjectsForRole(context.Background(), "TRF 1", "FGV", "Analista")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("expected 2 subjects, got %d", len(subjects))
	}
	if len(gen.requests) != 2 || gen.requests[0].Shape != ShapeText || gen.requests[1].Shape != ShapeSubjects {
		t.Fatalf("expected research then structuring call, got %+v", gen.requests)
	}
	if !strings.Contains(gen.requests[1].Prompt, "crase, regência") {
		t.Fatalf("structuring prompt must carry the research text")
	}
}

func TestEnhanceSubjectTopics_ParseFailureIsEmpty(t *testing.T) {
	svc := newTestContentService(&stubGenerator{responses: []string{"A lista já está completa."}})
	exam := &models.ExamData{Title: "TRF 1", Organization: "FGV"}

	topics, err := svc.EnhanceSubjectTopics(context.Background(), exam, "Português", []string{"Crase"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topics == nil || len(topics) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", topics)
	}
}

func TestEnhanceSubjectTopics_MergedByCaller(t *testing.T) {
	svc := newTestContentService(&stubGenerator{responses: []string{`["Topic A", "Topic B"]`}})
	exam := &models.ExamData{
		Title:    "TRF 1",
		Subjects: []models.Subject{{Name: "Português", Topics: []string{"Topic A"}}},
	}

	topics, err := svc.EnhanceSubjectTopics(context.Background(), exam, "Português", exam.Subjects[0].Topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added := exam.AddTopics("Português", topics)
	if len(added) != 1 || added[0] != "Topic B" {
		t.Fatalf("expected only Topic B added, got %v", added)
	}
}

func TestGetExamBlueprint_FailureIsEmpty(t *testing.T) {
	svc := newTestContentService(&stubGenerator{err: errors.New("down")})
	if got := svc.GetExamBlueprint(context.Background(), "TRF", "FGV", "Analista", 60); got != "" {
		t.Fatalf("expected empty blueprint, got %q", got)
	}
}

func TestGenerateDailyPlan(t *testing.T) {
	raw := `{"slots":[
		{"id":"x","subject":"Português","topic":"Crase","activityType":"TEORIA","durationMinutes":60,"notes":"foco"},
		{"id":"x","subject":"Português","topic":"Crase","activityType":"questoes","durationMinutes":"30"},
		{"subject":"Direito","topic":"Atos","activityType":"DORMIR","durationMinutes":30},
		{"subject":"Direito","topic":"Atos","activityType":"REVISAO","durationMinutes":0}
	]}`
	svc := newTestContentService(&stubGenerator{responses: []string{raw}})

	plan, err := svc.GenerateDailyPlan(context.Background(), &models.ExamData{Title: "TRF 1"}, 1.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Date != "2026-03-10" || plan.TargetHours != 1.5 || plan.ID == "" {
		t.Fatalf("unexpected plan header: %+v", plan)
	}
	if len(plan.Slots) != 2 {
		t.Fatalf("expected 2 usable slots, got %d", len(plan.Slots))
	}
	if plan.Slots[0].ID == "x" || plan.Slots[0].ID == plan.Slots[1].ID {
		t.Fatalf("slot ids must be assigned locally and unique")
	}
	for _, s := range plan.Slots {
		if s.Completed {
			t.Fatalf("slots must start incomplete")
		}
	}
	if plan.Slots[1].ActivityType != models.ActivityQuestions || plan.Slots[1].DurationMinutes != 30 {
		t.Fatalf("unexpected normalized slot: %+v", plan.Slots[1])
	}
}

func TestGenerateDailyPlan_NoUsableSlots(t *testing.T) {
	svc := newTestContentService(&stubGenerator{responses: []string{`{"slots":[]}`}})

	_, err := svc.GenerateDailyPlan(context.Background(), &models.ExamData{}, 2)
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestFindPastExamQuestions(t *testing.T) {
	raw := `{"meta":{"title":"","year":2023},"questions":[
		{"id":"1","text":"Q1","options":["a","b","c","d","e"],"correctOptionIndex":2,"explanation":"","topic":""},
		{"id":"2","text":"Q2","options":["a","b","c","d"],"correctOptionIndex":1,"explanation":"","topic":"x"}
	]}`
	svc := newTestContentService(&stubGenerator{responses: []string{raw}})

	exam, err := svc.FindPastExamQuestions(context.Background(), "TRF1 2023 analista")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exam.Title != "TRF1 2023 analista" || exam.Year != "2023" || exam.Org != "Banca desconhecida" {
		t.Fatalf("unexpected meta defaults: %+v", exam)
	}
	if len(exam.Questions) != 1 || exam.Questions[0].Topic != models.DefaultTopic {
		t.Fatalf("expected the malformed question dropped, got %+v", exam.Questions)
	}
}

func TestFindPastExamQuestions_NoQuestions(t *testing.T) {
	svc := newTestContentService(&stubGenerator{responses: []string{`{"meta":{},"questions":[]}`}})

	_, err := svc.FindPastExamQuestions(context.Background(), "x")
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestTextCalls_EmptyResponse(t *testing.T) {
	svc := newTestContentService(&stubGenerator{responses: []string{"   "}})

	_, err := svc.AskStudyTutor(context.Background(), "conteúdo", "dúvida")
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError for an empty answer, got %v", err)
	}
}

func TestGenerateStudyContent(t *testing.T) {
	gen := &stubGenerator{responses: []string{"# Crase\nconteúdo"}}
	exam := &models.ExamData{Title: "TRF 1", Organization: "FGV", SelectedRole: "Analista"}

	got, err := newTestContentService(gen).GenerateStudyContent(context.Background(), exam, "Português", "Crase")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Subject != "Português" || got.Title != "Crase" || !strings.HasPrefix(got.Content, "# Crase") {
		t.Fatalf("unexpected content: %+v", got)
	}
	if gen.requests[0].Tier != TierSearch || gen.requests[0].Temperature != 0.25 {
		t.Fatalf("unexpected request: %+v", gen.requests[0])
	}
}

package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("pt-BR"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslatePortuguese(t *testing.T) {
	ctx := initLang(t, "pt-BR")

	got := T(ctx, "TutorFallback")
	if got != "Desculpe, o tutor está indisponível no momento." {
		t.Errorf("T(TutorFallback) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ExamNotFound")
	if got != "Exam not found" {
		t.Errorf("T(ExamNotFound) = %q, want 'Exam not found'", got)
	}
}

func TestUnknownLanguageFallsBackToDefault(t *testing.T) {
	ctx := initLang(t, "ja")

	got := T(ctx, "ExamNotFound")
	if got != "Concurso não encontrado" {
		t.Errorf("T(ExamNotFound) = %q, want the pt-BR text", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	initLang(t, "en")

	got := T(context.Background(), "SessionFinished")
	if got != "Este simulado já foi finalizado" {
		t.Errorf("T(SessionFinished) = %q, want the pt-BR text", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "PlanReminderBody", map[string]any{"Name": "Ana", "Exam": "TRF 1"})
	want := "Hi Ana! You have not generated today's study plan for TRF 1 yet."
	if got != want {
		t.Errorf("Td(PlanReminderBody) = %q, want %q", got, want)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "pt-BR")

	if got := Tp(ctx, "QuestionsAnswered", 1); got != "1 questão respondida" {
		t.Errorf("Tp(1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsAnswered", 7); got != "7 questões respondidas" {
		t.Errorf("Tp(7) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddleware_AcceptLanguage(t *testing.T) {
	initLang(t, "pt-BR")

	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "JobNotFound")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "Job not found" {
		t.Errorf("expected English from Accept-Language, got %q", got)
	}
}

package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"concurseiro-backend/internal/handlers"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/simulation"
)

type emptyExams struct{}

func (emptyExams) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Exam, error) {
	return nil, nil
}

func newTestRouter(apiLimit int) (http.Handler, *middleware.JWTAuth) {
	log := zap.NewNop()
	jwtAuth := middleware.NewJWTAuth("test-secret")
	exams := handlers.NewExamHandler(nil, nil, nil, log)

	h := New(
		jwtAuth,
		handlers.NewAuthHandler(nil),
		handlers.NewUserHandler(nil),
		exams,
		handlers.NewSessionHandler(nil, simulation.NewManager(), nil, nil, log),
		handlers.NewStudyHandler(exams, nil, nil, 1, log),
		handlers.NewProgressHandler(emptyExams{}),
		handlers.NewJobHandler(nil),
		nil,
		Limiters{
			Auth: middleware.NewRateLimiter(10, time.Minute),
			API:  middleware.NewRateLimiter(apiLimit, time.Minute),
		},
		"http://localhost:3000",
	)
	return h, jwtAuth
}

func TestRouter_Routes(t *testing.T) {
	h, jwtAuth := newTestRouter(100)
	token, err := jwtAuth.GenerateAccessToken(uuid.New(), "ana@example.com", "free")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		expected int
		contains string
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"status":"ok"`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, ""},
		{"exams need a token", http.MethodGet, "/api/v1/exams", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"session needs a token", http.MethodPost, "/api/v1/exams/" + uuid.NewString() + "/simulations/s1/session/confirm", "", http.StatusUnauthorized, ""},
		{"progress", http.MethodGet, "/api/v1/progress", token, http.StatusOK, "answered_label"},
		{"session not started", http.MethodPost, "/api/v1/exams/" + uuid.NewString() + "/simulations/s1/session/confirm", token, http.StatusNotFound, "NOT_FOUND"},
		{"unknown route", http.MethodGet, "/api/v1/nope", token, http.StatusNotFound, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.expected {
				t.Fatalf("expected status %d, got %d: %s", tc.expected, rr.Code, rr.Body.String())
			}
			if tc.contains != "" && !strings.Contains(rr.Body.String(), tc.contains) {
				t.Fatalf("expected body to contain %q, got %s", tc.contains, rr.Body.String())
			}
		})
	}
}

func TestRouter_APILimiter(t *testing.T) {
	h, jwtAuth := newTestRouter(2)
	token, _ := jwtAuth.GenerateAccessToken(uuid.New(), "ana@example.com", "free")

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected the third request to be limited, got %d", last)
	}
}

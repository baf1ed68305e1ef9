package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/services"
)

func newRequest(method, target, body string, userID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error
}

// ─── Auth Handler Tests ───

type stubAuth struct {
	registerErr error
	tokens      *models.AuthTokens
	loginErr    error
	loggedOut   string
}

func (s *stubAuth) Register(ctx context.Context, req models.RegisterRequest) (*models.User, string, error) {
	if s.registerErr != nil {
		return nil, "", s.registerErr
	}
	return &models.User{ID: uuid.New(), Email: req.Email, FullName: req.FullName}, "token", nil
}

func (s *stubAuth) VerifyEmail(ctx context.Context, token string) (*models.AuthTokens, error) {
	return s.tokens, nil
}

func (s *stubAuth) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	return s.tokens, s.loginErr
}

func (s *stubAuth) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	return s.tokens, nil
}

func (s *stubAuth) Logout(ctx context.Context, refreshToken string) error {
	s.loggedOut = refreshToken
	return nil
}

func (s *stubAuth) ResendVerification(ctx context.Context, email string) (string, error) {
	return "token", nil
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		expected int
		code     string
	}{
		{"created", `{"full_name":"Ana","email":"ana@example.com","password":"Senha123!"}`, nil, http.StatusCreated, ""},
		{"invalid body", `{"email":`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"validation", `{"email":"x"}`, &services.ValidationError{Fields: map[string]string{"email": "Invalid email"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", `{"email":"ana@example.com"}`, &services.ConflictError{Message: "Email already registered"}, http.StatusConflict, "CONFLICT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &AuthHandler{authService: &stubAuth{registerErr: tc.err}}
			rr := httptest.NewRecorder()
			h.Register(rr, newRequest(http.MethodPost, "/api/v1/auth/register", tc.body, uuid.Nil, nil))

			if rr.Code != tc.expected {
				t.Fatalf("expected status %d, got %d", tc.expected, rr.Code)
			}
			if tc.code != "" {
				if got := decodeError(t, rr); got.Code != tc.code || got.RequestID != "req-1" {
					t.Fatalf("unexpected error payload: %+v", got)
				}
			}
		})
	}
}

func TestAuthHandler_VerifyEmailRequiresToken(t *testing.T) {
	h := &AuthHandler{authService: &stubAuth{}}
	rr := httptest.NewRecorder()
	h.VerifyEmail(rr, newRequest(http.MethodGet, "/api/v1/auth/verify-email", "", uuid.Nil, nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestAuthHandler_Login(t *testing.T) {
	auth := &stubAuth{tokens: &models.AuthTokens{AccessToken: "a", RefreshToken: "r", ExpiresIn: 900}}
	h := &AuthHandler{authService: auth}

	rr := httptest.NewRecorder()
	h.Login(rr, newRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.com","password":"x"}`, uuid.Nil, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var tokens models.AuthTokens
	if err := json.NewDecoder(rr.Body).Decode(&tokens); err != nil {
		t.Fatalf("failed to decode tokens: %v", err)
	}
	if tokens.AccessToken != "a" || tokens.ExpiresIn != 900 {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	auth.loginErr = &services.UnauthorizedError{Message: "Invalid email or password"}
	rr = httptest.NewRecorder()
	h.Login(rr, newRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.com","password":"x"}`, uuid.Nil, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	auth := &stubAuth{}
	h := &AuthHandler{authService: auth}

	rr := httptest.NewRecorder()
	h.Logout(rr, newRequest(http.MethodPost, "/api/v1/auth/logout", `{"refresh_token":"rt"}`, uuid.Nil, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if auth.loggedOut != "rt" {
		t.Fatalf("expected refresh token to be revoked, got %q", auth.loggedOut)
	}
}

// ─── Error Mapping Tests ───

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		code     string
	}{
		{"content unavailable", &services.ServiceUnavailableError{Op: "x", Err: errors.New("timeout")}, http.StatusServiceUnavailable, "CONTENT_UNAVAILABLE"},
		{"wrapped parse error", fmt.Errorf("analyze: %w", &services.ParseError{Op: "x", Err: errors.New("bad")}), http.StatusBadGateway, "CONTENT_MALFORMED"},
		{"generation error", &services.GenerationError{Op: "x", Reason: "3 questions"}, http.StatusBadGateway, "CONTENT_MALFORMED"},
		{"missing row", pgx.ErrNoRows, http.StatusNotFound, "NOT_FOUND"},
		{"queue down", fmt.Errorf("%w: refused", services.ErrQueueUnavailable), http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"},
		{"rate limited", &services.RateLimitError{Message: "slow down"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handleServiceError(rr, newRequest(http.MethodGet, "/", "", uuid.Nil, nil), tc.err)

			if rr.Code != tc.expected {
				t.Fatalf("expected status %d, got %d", tc.expected, rr.Code)
			}
			if got := decodeError(t, rr); got.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, got.Code)
			}
		})
	}
}

// ─── Job Handler Tests ───

type stubJobStore struct {
	job       *models.Job
	cancelled bool
}

func (s *stubJobStore) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error) {
	if s.job == nil || s.job.ID != id || s.job.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	return s.job, nil
}

func (s *stubJobStore) Cancel(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	if s.job.Status != models.JobPending {
		return false, nil
	}
	s.cancelled = true
	return true, nil
}

func TestJobHandler_GetJob_OtherUserIsNotFound(t *testing.T) {
	owner, other := uuid.New(), uuid.New()
	job := &models.Job{ID: uuid.New(), UserID: owner, Status: models.JobPending}
	h := NewJobHandler(&stubJobStore{job: job})

	rr := httptest.NewRecorder()
	h.GetJob(rr, newRequest(http.MethodGet, "/api/v1/jobs/x", "", other, map[string]string{"id": job.ID.String()}))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}

	rr = httptest.NewRecorder()
	h.GetJob(rr, newRequest(http.MethodGet, "/api/v1/jobs/x", "", owner, map[string]string{"id": job.ID.String()}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestJobHandler_CancelJob(t *testing.T) {
	owner := uuid.New()
	tests := []struct {
		name     string
		status   string
		expected int
	}{
		{"pending job is cancelled", models.JobPending, http.StatusOK},
		{"running job is kept", models.JobProcessing, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubJobStore{job: &models.Job{ID: uuid.New(), UserID: owner, Status: tc.status}}
			h := NewJobHandler(store)

			rr := httptest.NewRecorder()
			h.CancelJob(rr, newRequest(http.MethodDelete, "/api/v1/jobs/x", "", owner, map[string]string{"id": store.job.ID.String()}))
			if rr.Code != tc.expected {
				t.Fatalf("expected status %d, got %d", tc.expected, rr.Code)
			}
			if store.cancelled != (tc.expected == http.StatusOK) {
				t.Fatalf("unexpected cancel state %v", store.cancelled)
			}
		})
	}
}

func TestJobHandler_InvalidID(t *testing.T) {
	h := NewJobHandler(&stubJobStore{})
	rr := httptest.NewRecorder()
	h.GetJob(rr, newRequest(http.MethodGet, "/api/v1/jobs/nope", "", uuid.New(), map[string]string{"id": "nope"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

// ─── User Handler Tests ───

type stubUserStore struct {
	user     *models.User
	settings map[string]bool
}

func (s *stubUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.user == nil {
		return nil, pgx.ErrNoRows
	}
	return s.user, nil
}

func (s *stubUserStore) GetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, defaultValue bool) (bool, error) {
	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func (s *stubUserStore) SetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, enabled bool) error {
	s.settings[key] = enabled
	return nil
}

func TestUserHandler_SetNotification(t *testing.T) {
	userID := uuid.New()
	store := &stubUserStore{user: &models.User{ID: userID}, settings: map[string]bool{}}
	h := NewUserHandler(store)

	rr := httptest.NewRecorder()
	h.SetNotification(rr, newRequest(http.MethodPut, "/api/v1/users/me/notifications", `{"key":"weekly_digest","enabled":true}`, userID, nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown key to be rejected, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.SetNotification(rr, newRequest(http.MethodPut, "/api/v1/users/me/notifications", `{"key":"plan_reminders","enabled":true}`, userID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	rr = httptest.NewRecorder()
	h.GetMe(rr, newRequest(http.MethodGet, "/api/v1/users/me", "", userID, nil))
	var me struct {
		ID            uuid.UUID       `json:"id"`
		Notifications map[string]bool `json:"notifications"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if me.ID != userID || !me.Notifications[services.PlanReminderKey] {
		t.Fatalf("unexpected profile: %+v", me)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/services"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, string, error)
	VerifyEmail(ctx context.Context, token string) (*models.AuthTokens, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error)
	Logout(ctx context.Context, refreshToken string) error
	ResendVerification(ctx context.Context, email string) (string, error)
}

type AuthHandler struct {
	authService authService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, _, err := h.authService.Register(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": i18n.T(r.Context(), "RegisteredCheckEmail"),
		"user_id": user.ID,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", i18n.T(r.Context(), "TokenRequired"), r))
		return
	}

	tokens, err := h.authService.VerifyEmail(r.Context(), token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tokens, err := h.authService.Login(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tokens, err := h.authService.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": i18n.T(r.Context(), "LoggedOut")})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := h.authService.ResendVerification(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": i18n.T(r.Context(), "VerificationSent")})
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

// decodeBody writes a 400 and returns false when the body is not valid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", i18n.T(r.Context(), "InvalidRequestBody"), r))
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", i18n.T(r.Context(), "InvalidID"), r))
		return uuid.Nil, false
	}
	return id, true
}

func validationFailed(w http.ResponseWriter, r *http.Request, field, msgID string) {
	ctx := r.Context()
	writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", i18n.T(ctx, "ValidationFailed"),
		map[string]string{field: i18n.T(ctx, msgID)}, r))
}

func notFound(w http.ResponseWriter, r *http.Request, msgID string) {
	writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", i18n.T(r.Context(), msgID), r))
}

func internalError(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", i18n.T(r.Context(), "InternalError"), r))
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var (
		ve *services.ValidationError
		ce *services.ConflictError
		ne *services.NotFoundError
		ue *services.UnauthorizedError
		fe *services.ForbiddenError
		re *services.RateLimitError
		se *services.ServiceUnavailableError
		pe *services.ParseError
		ge *services.GenerationError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", i18n.T(ctx, "ValidationFailed"), ve.Fields, r))
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", ce.Message, r))
	case errors.As(err, &ne):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", ne.Message, r))
	case errors.As(err, &ue):
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", ue.Message, r))
	case errors.As(err, &fe):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", fe.Message, r))
	case errors.As(err, &re):
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", re.Message, r))
	case errors.As(err, &se):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("CONTENT_UNAVAILABLE", i18n.T(ctx, "ContentUnavailable"), r))
	case errors.As(err, &pe), errors.As(err, &ge):
		writeJSON(w, http.StatusBadGateway, errorResp("CONTENT_MALFORMED", i18n.T(ctx, "ContentMalformed"), r))
	case errors.Is(err, pgx.ErrNoRows):
		notFound(w, r, "ExamNotFound")
	case errors.Is(err, services.ErrQueueUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("QUEUE_UNAVAILABLE", i18n.T(ctx, "QueueUnavailable"), r))
	default:
		internalError(w, r)
	}
}

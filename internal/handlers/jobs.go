package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
)

type jobStore interface {
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

type JobHandler struct {
	jobRepo jobStore
}

func NewJobHandler(jobRepo jobStore) *JobHandler {
	return &JobHandler{jobRepo: jobRepo}
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	job, err := h.jobRepo.GetForUser(r.Context(), id, middleware.GetUserID(r.Context()))
	if errors.Is(err, pgx.ErrNoRows) {
		notFound(w, r, "JobNotFound")
		return
	}
	if err != nil {
		internalError(w, r)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob cancels a job that no worker has picked up yet.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	if _, err := h.jobRepo.GetForUser(r.Context(), id, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			notFound(w, r, "JobNotFound")
			return
		}
		internalError(w, r)
		return
	}

	cancelled, err := h.jobRepo.Cancel(r.Context(), id, userID)
	if err != nil {
		internalError(w, r)
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", i18n.T(r.Context(), "JobNotCancellable"), r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": i18n.T(r.Context(), "JobCancelled")})
}

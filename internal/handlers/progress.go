package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/progress"
)

type examLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Exam, error)
}

type ProgressHandler struct {
	exams examLister
}

func NewProgressHandler(exams examLister) *ProgressHandler {
	return &ProgressHandler{exams: exams}
}

type progressResponse struct {
	progress.Profile
	AnsweredLabel string `json:"answered_label"`
}

// Get recomputes the profile from every exam of the user.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	exams, err := h.exams.ListByUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		internalError(w, r)
		return
	}

	data := make([]models.ExamData, 0, len(exams))
	for _, e := range exams {
		data = append(data, e.Data)
	}
	profile := progress.Summarize(data)

	writeJSON(w, http.StatusOK, progressResponse{
		Profile:       profile,
		AnsweredLabel: i18n.Tp(r.Context(), "QuestionsAnswered", profile.Stats.TotalQuestions),
	})
}

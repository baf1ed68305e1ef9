package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/services"
)

type userStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, defaultValue bool) (bool, error)
	SetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, enabled bool) error
}

// notificationKeys are the settings a user may toggle.
var notificationKeys = map[string]bool{
	services.PlanReminderKey: true,
}

type UserHandler struct {
	userRepo userStore
}

func NewUserHandler(userRepo userStore) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

type meResponse struct {
	*models.User
	Notifications map[string]bool `json:"notifications"`
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		notFound(w, r, "UserNotFound")
		return
	}

	resp := meResponse{User: user, Notifications: make(map[string]bool, len(notificationKeys))}
	for key := range notificationKeys {
		enabled, err := h.userRepo.GetNotificationSetting(r.Context(), userID, key, false)
		if err != nil {
			internalError(w, r)
			return
		}
		resp.Notifications[key] = enabled
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) SetNotification(w http.ResponseWriter, r *http.Request) {
	var req models.NotificationSettingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !notificationKeys[req.Key] {
		validationFailed(w, r, "key", "UnknownNotification")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.userRepo.SetNotificationSetting(r.Context(), userID, req.Key, req.Enabled); err != nil {
		internalError(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": req.Key, "enabled": req.Enabled})
}

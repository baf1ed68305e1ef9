package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/metrics"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/simulation"
)

type simulationFinder interface {
	FindSimulation(ctx context.Context, id, userID uuid.UUID, simulationID string) (*models.Exam, models.SimulationResult, error)
}

type snapshotSavers interface {
	For(userID, examID uuid.UUID) simulation.Saver
}

// SessionHandler drives live simulation sessions. Sessions are kept in
// memory and rebuilt when missing, from the snapshot of a just closed
// session if the writer has not stored it yet, else from the stored one.
type SessionHandler struct {
	exams    simulationFinder
	sessions *simulation.Manager
	savers   snapshotSavers
	tutor    simulation.Tutor
	log      *zap.Logger
}

func NewSessionHandler(exams simulationFinder, sessions *simulation.Manager, savers snapshotSavers, tutor simulation.Tutor, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		exams:    exams,
		sessions: sessions,
		savers:   savers,
		tutor:    tutor,
		log:      log,
	}
}

type sessionResponse struct {
	simulation.View
	Applied bool `json:"applied"`
}

type selectRequest struct {
	Option int `json:"option"`
}

type tutorRequest struct {
	Query string `json:"query"`
}

// Start opens the simulation, or returns the open session unchanged. A
// finished session is replaced by a fresh one seeded with its answers.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	examID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	simID := chi.URLParam(r, "simId")
	userID := middleware.GetUserID(r.Context())
	ctx := r.Context()

	if live, ok := h.sessions.Get(userID, simID); ok {
		view := live.View()
		if view.Phase != simulation.PhaseFinished {
			writeJSON(w, http.StatusOK, sessionResponse{View: view})
			return
		}
	}

	_, snap, err := h.exams.FindSimulation(ctx, examID, userID, simID)
	if errors.Is(err, models.ErrSimulationNotFound) {
		notFound(w, r, "SimulationNotFound")
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	// the in-memory state may be ahead of what the writer has stored
	if live, ok := h.sessions.Get(userID, simID); ok {
		snap = live.Snapshot()
	} else if pending, ok := h.sessions.Pending(userID, simID); ok && !pending.Date.Before(snap.Date) {
		snap = pending
	}

	session, err := simulation.Start(simulation.Options{
		ID:               snap.ID,
		ExamTitle:        snap.ExamTitle,
		Topic:            snap.Topic,
		Questions:        snap.Questions,
		PriorAnswers:     snap.UserAnswers,
		Saver:            h.savers.For(userID, examID),
		Tutor:            h.tutor,
		Logger:           h.log,
		AnalysisFallback: i18n.T(ctx, "AnalysisFallback"),
		TutorFallback:    i18n.T(ctx, "TutorFallback"),
	})
	if err != nil {
		h.log.Warn("cannot start simulation", zap.String("simulation_id", simID), zap.Error(err))
		notFound(w, r, "SimulationNotFound")
		return
	}

	h.sessions.Put(userID, session)
	metrics.ActiveSessions.Set(float64(h.sessions.Len()))
	writeJSON(w, http.StatusCreated, sessionResponse{View: session.View(), Applied: true})
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*simulation.Session, bool) {
	s, ok := h.sessions.Get(middleware.GetUserID(r.Context()), chi.URLParam(r, "simId"))
	if !ok {
		notFound(w, r, "SessionNotStarted")
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) close(r *http.Request, s *simulation.Session) {
	h.sessions.Close(middleware.GetUserID(r.Context()), s)
	metrics.ActiveSessions.Set(float64(h.sessions.Len()))
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{View: s.View()})
}

func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	applied, err := s.Select(req.Option)
	if errors.Is(err, simulation.ErrOptionOutOfRange) {
		validationFailed(w, r, "option", "OptionOutOfRange")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{View: s.View(), Applied: applied})
}

func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	applied := s.Confirm()
	writeJSON(w, http.StatusOK, sessionResponse{View: s.View(), Applied: applied})
}

// Advance moves on; on the last question it finishes the run and the
// session is released once the summary has been rendered.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	applied := s.Advance()
	view := s.View()
	if view.Phase == simulation.PhaseFinished {
		h.close(r, s)
	}
	writeJSON(w, http.StatusOK, sessionResponse{View: view, Applied: applied})
}

func (h *SessionHandler) Exit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	applied := s.Exit()
	h.close(r, s)
	writeJSON(w, http.StatusOK, sessionResponse{View: s.View(), Applied: applied})
}

func (h *SessionHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	assist, err := s.RequestErrorAnalysis(r.Context())
	if err != nil {
		writeAssistError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assist)
}

func (h *SessionHandler) Tutor(w http.ResponseWriter, r *http.Request) {
	var req tutorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	assist, err := s.AskTutor(r.Context(), req.Query)
	if err != nil {
		writeAssistError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assist)
}

func writeAssistError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, simulation.ErrEmptyQuery):
		validationFailed(w, r, "query", "QuestionRequired")
	case errors.Is(err, simulation.ErrNotAnswered):
		writeJSON(w, http.StatusConflict, errorResp("NOT_ANSWERED", i18n.T(ctx, "NotAnswered"), r))
	case errors.Is(err, simulation.ErrRequestInFlight):
		writeJSON(w, http.StatusConflict, errorResp("REQUEST_IN_FLIGHT", i18n.T(ctx, "RequestInFlight"), r))
	case errors.Is(err, simulation.ErrSessionFinished):
		writeJSON(w, http.StatusConflict, errorResp("SESSION_FINISHED", i18n.T(ctx, "SessionFinished"), r))
	default:
		internalError(w, r)
	}
}

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"concurseiro-backend/internal/handlers"
	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/metrics"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/websocket"
)

// Limiters are owned by the caller so their cleanup loops can be stopped
// together with the server.
type Limiters struct {
	Auth *middleware.RateLimiter
	API  *middleware.RateLimiter
}

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	examHandler *handlers.ExamHandler,
	sessionHandler *handlers.SessionHandler,
	studyHandler *handlers.StudyHandler,
	progressHandler *handlers.ProgressHandler,
	jobHandler *handlers.JobHandler,
	wsHub *websocket.Hub,
	limiters Limiters,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))
	r.Use(middleware.Secure)
	r.Use(metrics.Middleware)
	r.Use(i18n.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(limiters.Auth.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Get("/verify-email", authHandler.VerifyEmail)
			r.Post("/resend-verification", authHandler.ResendVerification)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── WebSocket (token in the query string) ────
		r.Get("/ws", wsHub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(limiters.API.Middleware)

			r.Route("/users/me", func(r chi.Router) {
				r.Get("/", userHandler.GetMe)
				r.Put("/notifications", userHandler.SetNotification)
			})

			// ──── Exam Routes ────
			r.Route("/exams", func(r chi.Router) {
				r.Post("/analyze", examHandler.Analyze)
				r.Get("/", examHandler.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", examHandler.Get)
					r.Delete("/", examHandler.Delete)
					r.Put("/role", examHandler.SelectRole)
					r.Post("/topics/toggle", examHandler.ToggleTopic)
					r.Post("/subjects/enhance", examHandler.EnhanceSubject)

					r.Route("/plans", func(r chi.Router) {
						r.Post("/", examHandler.GeneratePlan)
						r.Get("/active", examHandler.ActivePlan)
						r.Put("/{planId}/slots/{slotId}/toggle", examHandler.ToggleSlot)
					})

					r.Route("/simulations", func(r chi.Router) {
						r.Post("/", examHandler.GenerateSimulation)
						r.Post("/past", examHandler.ImportPastExam)

						r.Route("/{simId}", func(r chi.Router) {
							r.Get("/", examHandler.GetSimulation)

							r.Route("/session", func(r chi.Router) {
								r.Post("/", sessionHandler.Start)
								r.Get("/", sessionHandler.Get)
								r.Post("/select", sessionHandler.Select)
								r.Post("/confirm", sessionHandler.Confirm)
								r.Post("/advance", sessionHandler.Advance)
								r.Post("/exit", sessionHandler.Exit)
								r.Post("/analysis", sessionHandler.Analysis)
								r.Post("/tutor", sessionHandler.Tutor)
							})
						})
					})

					r.Route("/study", func(r chi.Router) {
						r.Post("/content", studyHandler.Content)
						r.Post("/expand", studyHandler.Expand)
						r.Post("/tutor", studyHandler.Tutor)
						r.Post("/step-by-step", studyHandler.StepByStep)
						r.Post("/material", studyHandler.UploadMaterial)
					})
				})
			})

			r.Get("/progress", progressHandler.Get)

			// ──── Job Routes ────
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/{id}", jobHandler.GetJob)
				r.Delete("/{id}", jobHandler.CancelJob)
			})
		})
	})

	return r
}

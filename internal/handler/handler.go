package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/edubridge/classquiz/internal/chat"
	"github.com/edubridge/classquiz/internal/metrics"
	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/quiz"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	quizzes  *quiz.Service
	chat     *chat.Service
	secret   []byte
	validate *validator.Validate
}

// New creates a new Handler. Bearer tokens are verified with secret.
func New(quizzes *quiz.Service, assistant *chat.Service, secret string) *Handler {
	return &Handler{
		quizzes:  quizzes,
		chat:     assistant,
		secret:   []byte(secret),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(metrics.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAuth)
		teacher := requireRole(model.UserRoleTeacher)
		student := requireRole(model.UserRoleStudent)

		r.Get("/quizzes", h.handleListQuizzes)
		r.With(teacher).Post("/quizzes", h.handleCreateQuiz)

		r.Route("/quizzes/{quizID}", func(r chi.Router) {
			r.Get("/", h.handleGetQuiz)
			r.Get("/documents/{role}", h.handleGetQuizDocument)

			r.Group(func(r chi.Router) {
				r.Use(teacher)
				r.Put("/", h.handleUpdateQuiz)
				r.Delete("/", h.handleDeleteQuiz)
				r.Put("/documents/{role}", h.handleUploadQuizDocument)
				r.Get("/extraction", h.handleQuizExtraction)
				r.Put("/model-answers", h.handleSetModelAnswers)
				r.Get("/results", h.handleResults)
				r.Get("/submissions/{participantID}", h.handleGetSubmission)
				r.Get("/submissions/{participantID}/extraction", h.handleSubmissionExtraction)
				r.Post("/submissions/{participantID}/auto-grade", h.handleTriggerAutoGrade)
				r.Get("/submissions/{participantID}/auto-grade", h.handleGetAutoGrade)
				r.Post("/submissions/{participantID}/grade", h.handleManualGrade)
			})
			r.Get("/submissions/{participantID}/document", h.handleSubmissionDocument)

			r.Group(func(r chi.Router) {
				r.Use(student)
				r.Get("/status", h.handleStatus)
				r.Post("/start", h.handleStart)
				r.Post("/submit", h.handleSubmit)
				r.Get("/results/me", h.handleMyResult)
			})
		})

		r.Post("/chat", h.handleChat)
		r.Delete("/chat", h.handleResetChat)
	})
}

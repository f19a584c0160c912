package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/quiz"
)

type quizRequest struct {
	ClassroomID string           `json:"classroom_id" validate:"required,max=100"`
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	StartTime   time.Time        `json:"start_time" validate:"required"`
	Duration    int              `json:"duration" validate:"required,min=1,max=1440"`
	Published   bool             `json:"published"`
	Mode        model.QuizMode   `json:"mode" validate:"omitempty,oneof=structured document"`
	Questions   []model.Question `json:"questions" validate:"max=200"`
}

func (q quizRequest) input() quiz.Input {
	return quiz.Input{
		ClassroomID: q.ClassroomID,
		Title:       q.Title,
		Description: q.Description,
		StartTime:   q.StartTime,
		Duration:    q.Duration,
		Published:   q.Published,
		Mode:        q.Mode,
		Questions:   q.Questions,
	}
}

type modelAnswersRequest struct {
	Answers map[string]string `json:"answers" validate:"required,min=1,dive,required"`
}

// documentStatus describes one uploaded quiz document and its extraction.
type documentStatus struct {
	Document *model.DocumentRef      `json:"document,omitempty"`
	Extract  *model.ExtractedContent `json:"extract,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	classroom := r.URL.Query().Get("classroom")
	if user.Role == model.UserRoleTeacher {
		quizzes, err := h.quizzes.Quizzes(r.Context(), classroom)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quizzes)
		return
	}
	views, err := h.quizzes.ParticipantQuizzes(r.Context(), classroom, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeStructured
	}
	q, err := h.quizzes.CreateQuiz(r.Context(), model.UserFromContext(r.Context()), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id := chi.URLParam(r, "quizID")
	if user.Role == model.UserRoleTeacher {
		q, err := h.quizzes.Quiz(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
		return
	}
	v, err := h.quizzes.ParticipantQuiz(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleUpdateQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.quizzes.UpdateQuiz(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "quizID"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.quizzes.DeleteQuiz(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "quizID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUploadQuizDocument(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	role := model.DocumentRole(chi.URLParam(r, "role"))
	ref, err := h.quizzes.UploadQuizDocument(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "quizID"), role, up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ref)
}

func (h *Handler) handleGetQuizDocument(w http.ResponseWriter, r *http.Request) {
	role := model.DocumentRole(chi.URLParam(r, "role"))
	ref, data, err := h.quizzes.QuizDocument(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "quizID"), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDocument(w, ref, data)
}

func (h *Handler) handleQuizExtraction(w http.ResponseWriter, r *http.Request) {
	q, err := h.quizzes.Quiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[model.DocumentRole]documentStatus{
		model.RoleQuestionPaper: {Document: q.QuestionDocument, Extract: q.QuestionExtract, Error: q.QuestionExtractError},
		model.RoleAnswerKey:     {Document: q.AnswerKeyDocument, Extract: q.AnswerKeyExtract, Error: q.AnswerKeyExtractError},
	})
}

func (h *Handler) handleSetModelAnswers(w http.ResponseWriter, r *http.Request) {
	var req modelAnswersRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.quizzes.SetModelAnswers(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "quizID"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.quizzes.Status(r.Context(), chi.URLParam(r, "quizID"), model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.QuizStatus{"status": status})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	v, err := h.quizzes.Start(r.Context(), chi.URLParam(r, "quizID"), model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

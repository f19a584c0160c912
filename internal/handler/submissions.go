package handler

import (
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edubridge/classquiz/internal/model"
)

type answersRequest struct {
	Answers map[string]model.Response `json:"answers" validate:"required"`
}

type manualGradeRequest struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	MaxScore float64  `json:"max_score" validate:"gte=0"`
	Feedback string   `json:"feedback" validate:"max=10000"`
}

// autoGradeView is the auto-grading state of a submission.
type autoGradeView struct {
	AutoGraded   bool                        `json:"auto_graded"`
	ManualGraded bool                        `json:"manual_graded"`
	Results      []model.QuestionGradeResult `json:"results"`
	Score        float64                     `json:"score"`
	MaxScore     float64                     `json:"max_score"`
	Percentage   float64                     `json:"percentage"`
	Feedback     string                      `json:"feedback,omitempty"`
	GradingNote  string                      `json:"grading_note,omitempty"`
	GradedAt     *time.Time                  `json:"graded_at,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "quizID")
	participant := model.UserFromContext(r.Context()).ID

	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		up, err := readUpload(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sub, err := h.quizzes.SubmitDocument(r.Context(), id, participant, up)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sub)
		return
	}

	var req answersRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.quizzes.SubmitAnswers(r.Context(), id, participant, req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleMyResult(w http.ResponseWriter, r *http.Request) {
	sub, err := h.quizzes.Result(r.Context(), chi.URLParam(r, "quizID"), model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	export, err := h.quizzes.Results(r.Context(), model.UserFromContext(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) submission(w http.ResponseWriter, r *http.Request) (*model.Submission, bool) {
	sub, err := h.quizzes.Submission(r.Context(), model.UserFromContext(r.Context()),
		chi.URLParam(r, "quizID"), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return sub, true
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	if sub, ok := h.submission(w, r); ok {
		writeJSON(w, http.StatusOK, sub)
	}
}

func (h *Handler) handleSubmissionExtraction(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.submission(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, documentStatus{Document: sub.Document, Extract: sub.Extracted, Error: sub.ExtractionError})
}

func (h *Handler) handleSubmissionDocument(w http.ResponseWriter, r *http.Request) {
	ref, data, err := h.quizzes.SubmissionDocument(r.Context(), model.UserFromContext(r.Context()),
		chi.URLParam(r, "quizID"), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDocument(w, ref, data)
}

func (h *Handler) handleTriggerAutoGrade(w http.ResponseWriter, r *http.Request) {
	sub, err := h.quizzes.TriggerAutoGrade(r.Context(), model.UserFromContext(r.Context()),
		chi.URLParam(r, "quizID"), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sub.AutoGraded || sub.ManualGraded {
		writeJSON(w, http.StatusOK, autoGradeOf(sub))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleGetAutoGrade(w http.ResponseWriter, r *http.Request) {
	if sub, ok := h.submission(w, r); ok {
		writeJSON(w, http.StatusOK, autoGradeOf(sub))
	}
}

func autoGradeOf(sub *model.Submission) autoGradeView {
	return autoGradeView{
		AutoGraded:   sub.AutoGraded,
		ManualGraded: sub.ManualGraded,
		Results:      sub.GradeResults,
		Score:        sub.Score,
		MaxScore:     sub.MaxScore,
		Percentage:   sub.Percentage,
		Feedback:     sub.Feedback,
		GradingNote:  sub.GradingNote,
		GradedAt:     sub.GradedAt,
	}
}

func (h *Handler) handleManualGrade(w http.ResponseWriter, r *http.Request) {
	var req manualGradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.quizzes.ManualGrade(r.Context(), model.UserFromContext(r.Context()),
		chi.URLParam(r, "quizID"), chi.URLParam(r, "participantID"), *req.Score, req.MaxScore, req.Feedback)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

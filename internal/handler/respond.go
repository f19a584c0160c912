package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/edubridge/classquiz/internal/chat"
	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/quiz"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadySubmitted), errors.Is(err, model.ErrQuizLocked):
		return http.StatusConflict
	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrNotAvailable):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidQuiz), errors.Is(err, model.ErrInvalidAnswer),
		errors.Is(err, model.ErrWrongMode), errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, status, "internal error")
		return
	}
	writeMessage(w, status, err.Error())
}

// decode reads a JSON body into v and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		// Question payloads fail to decode with the validation error.
		if errors.Is(err, model.ErrInvalidQuiz) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return false
		}
		writeMessage(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeMessage(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag())
}

// readUpload reads the "file" part of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request) (quiz.Upload, error) {
	const limit = quiz.MaxDocumentSize + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return quiz.Upload{}, fmt.Errorf("%w: %v", model.ErrInvalidAnswer, err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return quiz.Upload{}, fmt.Errorf("%w: file field is required", model.ErrInvalidAnswer)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return quiz.Upload{}, fmt.Errorf("read upload: %w", err)
	}
	return quiz.Upload{Filename: hdr.Filename, Data: data}, nil
}

func writeDocument(w http.ResponseWriter, ref *model.DocumentRef, data []byte) {
	w.Header().Set("Content-Type", ref.ContentType)
	if ref.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", ref.Filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

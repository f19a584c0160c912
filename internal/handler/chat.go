package handler

import (
	"net/http"

	"github.com/edubridge/classquiz/internal/llm/prompts"
	"github.com/edubridge/classquiz/internal/model"
)

type chatRequest struct {
	Query    string `json:"query" validate:"required"`
	Function string `json:"function" validate:"omitempty,oneof=doubt navigate"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Function == "" {
		req.Function = prompts.FunctionDoubt
	}
	user := model.UserFromContext(r.Context())
	answer, err := h.chat.Reply(r.Context(), user.ID, user.Role, req.Function, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *Handler) handleResetChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Reset(r.Context(), model.UserFromContext(r.Context()).ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package question

import (
	"context"
	"net/http"
	"strconv"

	"examportal/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type catalogService interface {
	ListCandidateQuestions(ctx context.Context, testID int64) ([]CandidateQuestion, error)
}

type Handler struct {
	svc catalogService
}

func NewHandler(svc catalogService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListForTest(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	items, err := h.svc.ListCandidateQuestions(r.Context(), testID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if len(items) == 0 {
		apiresp.WriteError(w, r, http.StatusNotFound, "no questions for test")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

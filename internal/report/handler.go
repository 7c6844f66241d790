package report

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"examportal/internal/app/apiresp"
	"examportal/internal/auth"

	"github.com/go-chi/chi/v5"
)

type reportService interface {
	BuildReport(ctx context.Context, userID int64, sessionID string) (*Report, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	rep, ok := h.build(w, r, user.ID)
	if !ok {
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, rep)
}

func (h *Handler) MineExcel(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	rep, ok := h.build(w, r, user.ID)
	if !ok {
		return
	}

	body, err := ExportExcel(rep)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "cannot render report")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "report-" + rep.SessionID + ".xlsx"}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ForUser serves any user's report; the route is admin-only.
func (h *Handler) ForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	rep, ok := h.build(w, r, userID)
	if !ok {
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, rep)
}

func (h *Handler) build(w http.ResponseWriter, r *http.Request, userID int64) (*Report, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "session id is required")
		return nil, false
	}

	rep, err := h.svc.BuildReport(r.Context(), userID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request")
		case errors.Is(err, ErrNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "report not found")
		case errors.Is(err, ErrStorageFailure):
			apiresp.WriteErrorCode(w, r, http.StatusServiceUnavailable, "storage_failure", "report is temporarily unavailable, please retry")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return nil, false
	}
	return rep, true
}

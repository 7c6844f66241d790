package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"examportal/internal/app/apiresp"
	"examportal/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	StartSession(ctx context.Context, in StartInput) (*Session, error)
	SubmitAnswers(ctx context.Context, in SubmitInput) (*SubmissionResult, error)
	SaveAnswer(ctx context.Context, in SaveInput) (*QuestionResult, error)
	ListUserSessions(ctx context.Context, userID int64) ([]SessionSummary, error)
	CountSubmittedSessions(ctx context.Context) (int64, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"-"`
}

type startSessionRequest struct {
	TestID    int64  `json:"test_id"`
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
}

type submitRequest struct {
	TestID         int64         `json:"test_id"`
	UserID         int64         `json:"user_id"`
	ElapsedSeconds *int          `json:"elapsed_seconds"`
	Answers        []AnswerInput `json:"answers"`
}

// saveAnswerRequest carries one answer; question_id comes from the path.
type saveAnswerRequest struct {
	TestID int64 `json:"test_id"`
	UserID int64 `json:"user_id"`
	AnswerInput
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.TestID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "test_id is required"})
		return
	}

	userID, status, msg := resolveActingUser(user, req.UserID)
	if status != 0 {
		writeJSON(w, r, status, response{OK: false, Error: msg})
		return
	}

	sess, err := h.svc.StartSession(r.Context(), StartInput{UserID: userID, TestID: req.TestID, SessionID: req.SessionID})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sess})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "session id is required"})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.TestID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "test_id is required"})
		return
	}
	if req.ElapsedSeconds == nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "elapsed_seconds is required"})
		return
	}

	userID, status, msg := resolveActingUser(user, req.UserID)
	if status != 0 {
		writeJSON(w, r, status, response{OK: false, Error: msg})
		return
	}

	res, err := h.svc.SubmitAnswers(r.Context(), SubmitInput{
		UserID:         userID,
		TestID:         req.TestID,
		SessionID:      sessionID,
		ElapsedSeconds: *req.ElapsedSeconds,
		Answers:        req.Answers,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if sessionID == "" || err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid session or question id"})
		return
	}

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.TestID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "test_id is required"})
		return
	}

	userID, status, msg := resolveActingUser(user, req.UserID)
	if status != 0 {
		writeJSON(w, r, status, response{OK: false, Error: msg})
		return
	}

	answer := req.AnswerInput
	answer.QuestionID = questionID
	res, err := h.svc.SaveAnswer(r.Context(), SaveInput{
		UserID:    userID,
		TestID:    req.TestID,
		SessionID: sessionID,
		Answer:    answer,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) MySessions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	items, err := h.svc.ListUserSessions(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) SubmissionCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CountSubmittedSessions(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int64{"submitted_sessions": n}})
}

// resolveActingUser lets admins act for a candidate; everyone else acts as
// themselves. A non-zero status means the request must be rejected.
func resolveActingUser(user *auth.User, requested int64) (int64, int, string) {
	if user.IsAdmin() {
		if requested <= 0 {
			return 0, http.StatusBadRequest, "user_id is required for admin"
		}
		return requested, 0, ""
	}
	if requested > 0 && requested != user.ID {
		return 0, http.StatusForbidden, "forbidden"
	}
	return user.ID, 0, ""
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error(), Code: "invalid_request"})
	case errors.Is(err, ErrSessionClosed):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error(), Code: "session_closed"})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrTestNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSessionForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
	case errors.Is(err, ErrStorageFailure):
		writeJSON(w, r, http.StatusServiceUnavailable, response{OK: false, Error: "nothing was saved, please retry", Code: "storage_failure"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	if payload.Code != "" {
		apiresp.WriteErrorCode(w, r, code, payload.Code, payload.Error)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

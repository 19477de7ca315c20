package tryout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/gunjou/api-ukai-syndrome/internal/app/apiresp"
	"github.com/gunjou/api-ukai-syndrome/internal/auth"
)

type Handler struct {
	svc      attemptService
	validate *validator.Validate
}

type attemptService interface {
	StartAttempt(ctx context.Context, examID, userID int64) (*StartResult, error)
	RecordAnswer(ctx context.Context, in RecordAnswerInput) error
	Submit(ctx context.Context, token string, userID int64) (*ScoreResult, error)
	GetAttempt(ctx context.Context, token string, userID int64) (*AttemptDetail, error)
	AttemptQuestions(ctx context.Context, token string, userID int64) ([]AttemptQuestion, error)
	RemainingAttempts(ctx context.Context, examID, userID int64) (*RemainingAttempts, error)
	Leaderboard(ctx context.Context, examID int64, limit int) ([]LeaderboardEntry, error)
	Statistics(ctx context.Context, examID int64) (*Statistics, error)
	DeleteAttempt(ctx context.Context, attemptID int64) error
}

type recordAnswerRequest struct {
	Selected  *string `json:"selected" validate:"omitempty,max=8"`
	Uncertain *bool   `json:"uncertain"`
}

type leaderboardQuery struct {
	Limit int `validate:"gte=0,lte=1000"`
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := idParam(w, r, "examID", "invalid tryout id")
	if !ok {
		return
	}

	res, err := h.svc.StartAttempt(r.Context(), examID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	code := http.StatusCreated
	if res.Outcome == OutcomeResumed {
		code = http.StatusOK
	}
	apiresp.WriteOK(w, r, code, res)
}

func (h *Handler) RemainingAttempts(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := idParam(w, r, "examID", "invalid tryout id")
	if !ok {
		return
	}

	res, err := h.svc.RemainingAttempts(r.Context(), examID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.GetAttempt(r.Context(), chi.URLParam(r, "token"), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.AttemptQuestions(r.Context(), chi.URLParam(r, "token"), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) RecordAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question ordinal")
		return
	}

	var req recordAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Selected == nil && req.Uncertain == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "selected or uncertain is required")
		return
	}

	err = h.svc.RecordAnswer(r.Context(), RecordAnswerInput{
		Token:     chi.URLParam(r, "token"),
		UserID:    user.ID,
		Ordinal:   ordinal,
		Selected:  req.Selected,
		Uncertain: req.Uncertain,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.Submit(r.Context(), chi.URLParam(r, "token"), user.ID)
	if errors.Is(err, ErrAlreadySubmitted) && res != nil {
		apiresp.WriteOK(w, r, http.StatusOK, res)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID", "invalid tryout id")
	if !ok {
		return
	}

	var q leaderboardQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	if err := h.validate.Struct(q); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "limit must be between 0 and 1000")
		return
	}

	res, err := h.svc.Leaderboard(r.Context(), examID, q.Limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID", "invalid tryout id")
	if !ok {
		return
	}

	res, err := h.svc.Statistics(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) DeleteAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := idParam(w, r, "id", "invalid attempt id")
	if !ok {
		return
	}

	if err := h.svc.DeleteAttempt(r.Context(), attemptID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func idParam(w http.ResponseWriter, r *http.Request, name, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, msg)
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTemplateNotFound):
		apiresp.WriteErrorCode(w, r, http.StatusNotFound, "tryout_not_found", err.Error())
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteErrorCode(w, r, http.StatusNotFound, "attempt_not_found", err.Error())
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrInvalidState):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, ErrAttemptLimitExceeded):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "attempt_limit_exceeded", err.Error())
	case errors.Is(err, ErrAlreadySubmitted):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "already_submitted", err.Error())
	case errors.Is(err, ErrExpired):
		apiresp.WriteErrorCode(w, r, http.StatusGone, "attempt_expired", err.Error())
	case errors.Is(err, ErrInvalidQuestion):
		apiresp.WriteErrorCode(w, r, http.StatusBadRequest, "invalid_question", err.Error())
	case errors.Is(err, ErrInvalidChoice):
		apiresp.WriteErrorCode(w, r, http.StatusBadRequest, "invalid_choice", err.Error())
	case errors.Is(err, ErrTemplateInvalid):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("tryout template is inconsistent")
		apiresp.WriteErrorCode(w, r, http.StatusInternalServerError, "tryout_invalid", "tryout is misconfigured")
	case IsRetryable(err):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("tryout storage failure")
		w.Header().Set("Retry-After", "1")
		apiresp.WriteError(w, r, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("tryout request failed")
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

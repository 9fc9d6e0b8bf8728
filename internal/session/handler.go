package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/requestctx"
)

const maxJSONBodyBytes = 1 << 20

type sessionStore interface {
	Upsert(ctx context.Context, db *sql.DB, table string, sess *Session) error
}

type Handler struct {
	store  sessionStore
	logger *observability.Logger
}

func NewHandler(store sessionStore, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

type uploadRequest struct {
	SessionID   string     `json:"sessionId"`
	StartTime   *time.Time `json:"sessionStartTime"`
	DurationMS  *int64     `json:"sessionDurationMs"`
	DeviceModel string     `json:"deviceModel,omitempty"`
	OSVersion   string     `json:"osVersion,omitempty"`
	AppVersion  string     `json:"appVersion,omitempty"`
	BuildNumber string     `json:"buildNumber,omitempty"`
	ScreenCount *int       `json:"screenCount,omitempty"`
	EventCount  *int       `json:"eventCount,omitempty"`
}

// Upload handles POST /api/v1/sessions.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestctx.From(r.Context())
	if !ok {
		httpapi.WriteError(w, apperr.MissingHeaders())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	if req.SessionID == "" {
		httpapi.WriteError(w, apperr.MissingSessionID())
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		httpapi.WriteError(w, apperr.InvalidSessionID())
		return
	}
	if req.StartTime == nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "MISSING_SESSION_START_TIME", "missing session start time")
		return
	}

	sess := &Session{
		SessionID:   sessionID,
		DeviceID:    rc.Device.DeviceID,
		UserID:      rc.UserID,
		StartTime:   *req.StartTime,
		DeviceModel: req.DeviceModel,
		OSVersion:   req.OSVersion,
		AppVersion:  req.AppVersion,
		BuildNumber: req.BuildNumber,
		ProjectID:   rc.ProjectID,
	}
	if req.DurationMS != nil {
		sess.DurationMS = *req.DurationMS
	}
	if req.ScreenCount != nil {
		sess.ScreenCount = *req.ScreenCount
	}
	if req.EventCount != nil {
		sess.EventCount = *req.EventCount
	}

	if err := h.store.Upsert(r.Context(), rc.DB, rc.TableName("sessions"), sess); err != nil {
		sentry.CaptureException(err)
		h.logger.Error("session_upsert_failed", map[string]any{
			"project_id": rc.ProjectID,
			"error":      err.Error(),
		})
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(rc.ProjectID))
		return
	}

	h.logger.Info("session_recorded", map[string]any{
		"project_id": rc.ProjectID,
		"session_id": sessionID.String(),
	})
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"sessionId": sessionID.String()})
}

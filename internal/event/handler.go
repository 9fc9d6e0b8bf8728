package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/requestctx"
)

const maxJSONBodyBytes = 1 << 20

type eventStore interface {
	Insert(ctx context.Context, db *sql.DB, table string, ev *Event) error
	InsertBatch(ctx context.Context, db *sql.DB, table string, events []*Event) error
}

type Handler struct {
	store  eventStore
	logger *observability.Logger
}

func NewHandler(store eventStore, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

type trackRequest struct {
	EventType  string          `json:"eventType"`
	Timestamp  *int64          `json:"timestamp"`
	SessionID  string          `json:"sessionId,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// Track handles POST /api/v1/events/track.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestctx.From(r.Context())
	if !ok {
		httpapi.WriteError(w, apperr.MissingHeaders())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	ev, err := buildEvent(rc, &req)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	if err := h.store.Insert(r.Context(), rc.DB, rc.TableName("events"), ev); err != nil {
		sentry.CaptureException(err)
		h.logger.Error("event_insert_failed", map[string]any{
			"project_id": rc.ProjectID,
			"error":      err.Error(),
		})
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(rc.ProjectID))
		return
	}

	h.logger.Info("event_tracked", map[string]any{
		"project_id": rc.ProjectID,
		"event_type": ev.EventType,
		"event_id":   ev.EventID,
	})
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"eventId": ev.EventID})
}

// TrackBatch handles POST /api/v1/events/batch. Invalid items are skipped
// instead of failing the whole request.
func (h *Handler) TrackBatch(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestctx.From(r.Context())
	if !ok {
		httpapi.WriteError(w, apperr.MissingHeaders())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var reqs []*trackRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	events := make([]*Event, 0, len(reqs))
	for _, req := range reqs {
		if req == nil {
			continue
		}
		ev, err := buildEvent(rc, req)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}

	if err := h.store.InsertBatch(r.Context(), rc.DB, rc.TableName("events"), events); err != nil {
		sentry.CaptureException(err)
		h.logger.Error("event_batch_insert_failed", map[string]any{
			"project_id": rc.ProjectID,
			"error":      err.Error(),
		})
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(rc.ProjectID))
		return
	}

	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"accepted": len(events)})
}

func buildEvent(rc *requestctx.Context, req *trackRequest) (*Event, error) {
	if req.EventType == "" {
		return nil, apperr.MissingEventType()
	}
	if req.Timestamp == nil {
		return nil, apperr.InvalidTimestamp()
	}

	var sessionID *uuid.UUID
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			return nil, apperr.InvalidSessionID()
		}
		sessionID = &parsed
	}

	return &Event{
		EventID:        cryptoutil.GenerateEventID(),
		DeviceID:       rc.Device.DeviceID,
		UserID:         rc.UserID,
		SessionID:      sessionID,
		EventType:      req.EventType,
		EventTimestamp: *req.Timestamp,
		Properties:     req.Properties,
		ProjectID:      rc.ProjectID,
	}, nil
}

package traffic

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/requestctx"
	"analytics-hub/internal/security"
	"analytics-hub/internal/tenant"
)

const maxJSONBodyBytes = 1 << 20

type tenantResolver interface {
	Resolve(ctx context.Context, projectID string) (*tenant.Config, *sql.DB, error)
}

type metricStore interface {
	Insert(ctx context.Context, db *sql.DB, table string, m *Metric) error
	InsertBatch(ctx context.Context, db *sql.DB, table string, metrics []*Metric) error
}

type Handler struct {
	router     tenantResolver
	store      metricStore
	logger     *observability.Logger
	ipHashSalt string

	now func() time.Time
}

// NewHandler builds the traffic handler. When ipHashSalt is blank, client IPs
// are not recorded at all, not even hashed.
func NewHandler(router tenantResolver, store metricStore, logger *observability.Logger, ipHashSalt string) *Handler {
	return &Handler{
		router:     router,
		store:      store,
		logger:     logger,
		ipHashSalt: ipHashSalt,
		now:        time.Now,
	}
}

type trackRequest struct {
	MetricType string          `json:"metricType"`
	PagePath   string          `json:"pagePath,omitempty"`
	Referrer   string          `json:"referrer,omitempty"`
	Timestamp  *int64          `json:"timestamp,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Track handles POST /api/v1/traffic-metrics/track on the signed data plane.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestctx.From(r.Context())
	if !ok {
		httpapi.WriteError(w, apperr.MissingHeaders())
		return
	}

	req, err := decodeTrackRequest(w, r)
	if err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	m, err := h.buildMetric(rc.ProjectID, rc.Device.DeviceID, rc.UserID, req, security.ClientIP(r), r.UserAgent())
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	if err := h.store.Insert(r.Context(), rc.DB, rc.TableName("traffic_metrics"), m); err != nil {
		h.reportInsertFailure(rc.ProjectID, err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(rc.ProjectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"metricId": m.MetricID})
}

// TrackBatch handles POST /api/v1/traffic-metrics/batch. Items without a
// usable metric type are skipped.
func (h *Handler) TrackBatch(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestctx.From(r.Context())
	if !ok {
		httpapi.WriteError(w, apperr.MissingHeaders())
		return
	}

	reqs, err := decodeTrackBatch(w, r)
	if err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	metrics := h.buildBatch(rc.ProjectID, rc.Device.DeviceID, rc.UserID, reqs, security.ClientIP(r), r.UserAgent())
	if err := h.store.InsertBatch(r.Context(), rc.DB, rc.TableName("traffic_metrics"), metrics); err != nil {
		h.reportInsertFailure(rc.ProjectID, err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(rc.ProjectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"accepted": len(metrics)})
}

// PublicTrack handles POST /api/public/traffic/track. Websites report page
// views with only X-Project-ID and X-Device-ID, no signing key. The user id
// comes from X-User-ID when present, otherwise it is derived from the device
// UUID so repeat visits aggregate without any stored identity.
func (h *Handler) PublicTrack(w http.ResponseWriter, r *http.Request) {
	projectID, deviceID, userID, err := h.publicIdentity(r)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	cfg, db, err := h.router.Resolve(r.Context(), projectID)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	req, err := decodeTrackRequest(w, r)
	if err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	m, err := h.buildMetric(projectID, deviceID, userID, req, security.ClientIP(r), r.UserAgent())
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	if err := h.store.Insert(r.Context(), db, cfg.TablePrefix+"traffic_metrics", m); err != nil {
		h.reportInsertFailure(projectID, err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(projectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"metricId": m.MetricID})
}

// PublicTrackBatch handles POST /api/public/traffic/batch.
func (h *Handler) PublicTrackBatch(w http.ResponseWriter, r *http.Request) {
	projectID, deviceID, userID, err := h.publicIdentity(r)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	cfg, db, err := h.router.Resolve(r.Context(), projectID)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	reqs, err := decodeTrackBatch(w, r)
	if err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	if len(reqs) == 0 {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "EMPTY_ITEMS", "request body must not be empty")
		return
	}

	metrics := h.buildBatch(projectID, deviceID, userID, reqs, security.ClientIP(r), r.UserAgent())
	if len(metrics) == 0 {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "NO_VALID_ITEMS", "no item in the batch carries a usable metricType")
		return
	}

	if err := h.store.InsertBatch(r.Context(), db, cfg.TablePrefix+"traffic_metrics", metrics); err != nil {
		h.reportInsertFailure(projectID, err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(projectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{
		"received": len(reqs),
		"accepted": len(metrics),
		"rejected": len(reqs) - len(metrics),
	})
}

func (h *Handler) publicIdentity(r *http.Request) (string, uuid.UUID, string, error) {
	projectID := strings.TrimSpace(r.Header.Get("X-Project-ID"))
	if projectID == "" {
		projectID = strings.TrimSpace(r.URL.Query().Get("projectId"))
	}
	if projectID == "" {
		return "", uuid.Nil, "", apperr.MissingProjectID()
	}

	deviceID, err := uuid.Parse(strings.TrimSpace(r.Header.Get("X-Device-ID")))
	if err != nil {
		return "", uuid.Nil, "", apperr.InvalidDeviceID()
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = DeriveUserID(deviceID)
	}
	return projectID, deviceID, userID, nil
}

func (h *Handler) buildMetric(projectID string, deviceID uuid.UUID, userID string, req *trackRequest, clientIP, userAgent string) (*Metric, error) {
	metricType := NormalizeMetricType(req.MetricType)
	if metricType == "" {
		return nil, apperr.MissingMetricType()
	}

	var sessionID *uuid.UUID
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			return nil, apperr.InvalidSessionID()
		}
		sessionID = &parsed
	}

	timestamp := h.now().UnixMilli()
	if req.Timestamp != nil && *req.Timestamp > 0 {
		timestamp = *req.Timestamp
	}

	return &Metric{
		MetricID:   cryptoutil.GenerateTrafficMetricID(),
		DeviceID:   deviceID,
		UserID:     userID,
		SessionID:  sessionID,
		MetricType: metricType,
		PagePath:   strings.TrimSpace(req.PagePath),
		Referrer:   strings.TrimSpace(req.Referrer),
		Timestamp:  timestamp,
		Metadata:   h.enrichMetadata(req.Metadata, clientIP, userAgent),
		ProjectID:  projectID,
	}, nil
}

func (h *Handler) buildBatch(projectID string, deviceID uuid.UUID, userID string, reqs []*trackRequest, clientIP, userAgent string) []*Metric {
	metrics := make([]*Metric, 0, len(reqs))
	for _, req := range reqs {
		if req == nil {
			continue
		}
		m, err := h.buildMetric(projectID, deviceID, userID, req, clientIP, userAgent)
		if err != nil {
			continue
		}
		metrics = append(metrics, m)
	}
	return metrics
}

// enrichMetadata folds server-side client facts into the stored metadata. The
// raw IP never lands in the database: only a salted SHA-256 hash, and only
// when a salt is configured. Non-object client metadata rides under a "data"
// key so the column stays an object.
func (h *Handler) enrichMetadata(raw json.RawMessage, clientIP, userAgent string) json.RawMessage {
	meta := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &meta); err != nil {
			meta = map[string]any{"data": raw}
		}
	}
	if h.ipHashSalt != "" && clientIP != "" && clientIP != "unknown" {
		meta["ipHash"] = cryptoutil.SHA256Hex(h.ipHashSalt + "|" + clientIP)
	}
	if userAgent != "" {
		meta["userAgent"] = userAgent
	}
	if len(meta) == 0 {
		return nil
	}
	enriched, err := json.Marshal(meta)
	if err != nil {
		return raw
	}
	return enriched
}

func (h *Handler) reportInsertFailure(projectID string, err error) {
	sentry.CaptureException(err)
	h.logger.Error("traffic_metric_insert_failed", map[string]any{
		"project_id": projectID,
		"error":      err.Error(),
	})
}

func decodeTrackRequest(w http.ResponseWriter, r *http.Request) (*trackRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeTrackBatch(w http.ResponseWriter, r *http.Request) ([]*trackRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var reqs []*trackRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

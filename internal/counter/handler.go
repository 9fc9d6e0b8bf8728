package counter

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/tenant"
)

const maxJSONBodyBytes = 1 << 20

type counterStore interface {
	List(ctx context.Context, db *sql.DB, table, projectID string, onlyPublic bool) ([]*Counter, error)
	Get(ctx context.Context, db *sql.DB, table, projectID, key string, onlyPublic bool) (*Counter, error)
	Upsert(ctx context.Context, db *sql.DB, table, projectID, key string, patch *Patch) error
	Increment(ctx context.Context, db *sql.DB, table, projectID, key string, delta int64) error
	Delete(ctx context.Context, db *sql.DB, table, projectID, key string) error
}

type tenantResolver interface {
	Resolve(ctx context.Context, projectID string) (*tenant.Config, *sql.DB, error)
}

// Handler serves both counter planes: the admin surface reads and writes any
// counter, the public surface is limited to is_public rows. Neither runs
// behind the signature middleware, so every call resolves its project
// explicitly.
type Handler struct {
	router tenantResolver
	store  counterStore
	logger *observability.Logger
}

func NewHandler(router tenantResolver, store counterStore, logger *observability.Logger) *Handler {
	return &Handler{router: router, store: store, logger: logger}
}

// AdminList handles GET /api/admin/counters.
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// AdminGet handles GET /api/admin/counters/{key}.
func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, false)
}

// AdminUpsert handles PUT /api/admin/counters/{key}.
func (h *Handler) AdminUpsert(w http.ResponseWriter, r *http.Request) {
	cfg, db, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	table := cfg.TableName("counters")
	if err := h.store.Upsert(r.Context(), db, table, cfg.ProjectID, key, &patch); err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}

	current, err := h.store.Get(r.Context(), db, table, cfg.ProjectID, key, false)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, current)
}

// AdminIncrement handles POST /api/admin/counters/{key}/increment.
func (h *Handler) AdminIncrement(w http.ResponseWriter, r *http.Request) {
	cfg, db, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	delta := int64(1)
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var req struct {
		Delta *int64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Delta != nil {
		delta = *req.Delta
	}

	table := cfg.TableName("counters")
	if err := h.store.Increment(r.Context(), db, table, cfg.ProjectID, key, delta); err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}

	current, err := h.store.Get(r.Context(), db, table, cfg.ProjectID, key, false)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, current)
}

// AdminDelete handles DELETE /api/admin/counters/{key}.
func (h *Handler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	cfg, db, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), db, cfg.TableName("counters"), cfg.ProjectID, key); err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"deleted": true})
}

// PublicList handles GET /api/public/counters.
func (h *Handler) PublicList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

// PublicGet handles GET /api/public/counters/{key}.
func (h *Handler) PublicGet(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, true)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, onlyPublic bool) {
	cfg, db, ok := h.resolveProject(w, r)
	if !ok {
		return
	}

	counters, err := h.store.List(r.Context(), db, cfg.TableName("counters"), cfg.ProjectID, onlyPublic)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{
		"projectId": cfg.ProjectID,
		"items":     counters,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, onlyPublic bool) {
	cfg, db, key, ok := h.resolve(w, r)
	if !ok {
		return
	}

	c, err := h.store.Get(r.Context(), db, cfg.TableName("counters"), cfg.ProjectID, key, onlyPublic)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteError(w, apperr.ProjectDBUnavailable(cfg.ProjectID))
		return
	}
	if c == nil {
		httpapi.WriteErrorCode(w, http.StatusNotFound, "COUNTER_NOT_FOUND", "counter not found")
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, c)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*tenant.Config, *sql.DB, string, bool) {
	cfg, db, ok := h.resolveProject(w, r)
	if !ok {
		return nil, nil, "", false
	}

	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" || len(key) > 100 {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "counter key must be 1-100 characters")
		return nil, nil, "", false
	}
	return cfg, db, key, true
}

// resolveProject takes the project from the projectId query parameter,
// falling back to the X-Project-ID header.
func (h *Handler) resolveProject(w http.ResponseWriter, r *http.Request) (*tenant.Config, *sql.DB, bool) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		projectID = r.Header.Get("X-Project-ID")
	}
	if strings.TrimSpace(projectID) == "" {
		httpapi.WriteError(w, apperr.MissingProjectID())
		return nil, nil, false
	}

	cfg, db, err := h.router.Resolve(r.Context(), projectID)
	if err != nil {
		httpapi.WriteError(w, err)
		return nil, nil, false
	}
	return cfg, db, true
}

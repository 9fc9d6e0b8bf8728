// Package maintenance hosts the cron-driven retention cleanup. Old raw
// events, sessions and traffic metrics are deleted per project in bounded
// batches so a single run never holds long locks on a tenant database.
package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"analytics-hub/internal/observability"
	"analytics-hub/internal/tenant"
)

type projectLister interface {
	List(ctx context.Context) ([]*tenant.Config, error)
}

type poolResolver interface {
	Resolve(ctx context.Context, projectID string) (*tenant.Config, *sql.DB, error)
}

type CleanupHandler struct {
	projects         projectLister
	router           poolResolver
	logger           *observability.Logger
	cronSecret       string
	eventRetention   time.Duration
	sessionRetention time.Duration
	trafficRetention time.Duration
	batchSize        int

	now func() time.Time
}

func NewCleanupHandler(
	projects projectLister,
	router poolResolver,
	logger *observability.Logger,
	cronSecret string,
	eventRetention time.Duration,
	sessionRetention time.Duration,
	trafficRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		projects:         projects,
		router:           router,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		eventRetention:   eventRetention,
		sessionRetention: sessionRetention,
		trafficRetention: trafficRetention,
		batchSize:        batchSize,
		now:              time.Now,
	}
}

// ProjectResult reports what one cleanup pass removed from one project.
type ProjectResult struct {
	ProjectID       string `json:"projectId"`
	DeletedEvents   int64  `json:"deletedEvents"`
	DeletedSessions int64  `json:"deletedSessions"`
	DeletedTraffic  int64  `json:"deletedTraffic"`
	Error           string `json:"error,omitempty"`
}

// Handle answers the scheduled cleanup call. Without a configured cron secret
// the endpoint pretends not to exist.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	results, err := h.Run(r.Context())
	if err != nil {
		h.logger.Error("retention_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": results,
	})
}

// Run sweeps every active project once. A project whose database is down is
// reported in its result and does not stop the sweep.
func (h *CleanupHandler) Run(ctx context.Context) ([]ProjectResult, error) {
	configs, err := h.projects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	results := make([]ProjectResult, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		results = append(results, h.cleanupProject(ctx, cfg.ProjectID))
	}
	return results, nil
}

func (h *CleanupHandler) cleanupProject(ctx context.Context, projectID string) ProjectResult {
	result := ProjectResult{ProjectID: projectID}

	cfg, db, err := h.router.Resolve(ctx, projectID)
	if err != nil {
		h.logger.Warn("retention_cleanup_project_skipped", map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
		result.Error = err.Error()
		return result
	}

	now := h.now().UTC()
	result.DeletedEvents, err = h.deleteOldRows(ctx, db,
		cfg.TableName("events"), "event_timestamp", now.Add(-h.retention(h.eventRetention)).UnixMilli())
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.DeletedSessions, err = h.deleteOldSessions(ctx, db,
		cfg.TableName("sessions"), now.Add(-h.retention(h.sessionRetention)))
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.DeletedTraffic, err = h.deleteOldRows(ctx, db,
		cfg.TableName("traffic_metrics"), "metric_timestamp", now.Add(-h.retention(h.trafficRetention)).UnixMilli())
	if err != nil {
		result.Error = err.Error()
		return result
	}

	h.logger.Info("retention_cleanup_project_done", map[string]any{
		"project_id":       projectID,
		"deleted_events":   result.DeletedEvents,
		"deleted_sessions": result.DeletedSessions,
		"deleted_traffic":  result.DeletedTraffic,
	})
	return result
}

// deleteOldRows removes rows whose epoch-millisecond column is older than the
// cutoff, batch by batch until a batch comes back short.
func (h *CleanupHandler) deleteOldRows(ctx context.Context, db *sql.DB, table, column string, cutoffMillis int64) (int64, error) {
	var total int64
	for {
		res, err := db.ExecContext(ctx, fmt.Sprintf(`
			WITH stale AS (
				SELECT id
				FROM %[1]s
				WHERE %[2]s < $1
				ORDER BY %[2]s ASC
				LIMIT $2
			)
			DELETE FROM %[1]s t
			USING stale
			WHERE t.id = stale.id
		`, table, column), cutoffMillis, h.batch())
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("%s rows affected: %w", table, err)
		}
		total += affected
		if affected < int64(h.batch()) {
			return total, nil
		}
	}
}

func (h *CleanupHandler) deleteOldSessions(ctx context.Context, db *sql.DB, table string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		res, err := db.ExecContext(ctx, fmt.Sprintf(`
			WITH stale AS (
				SELECT id
				FROM %[1]s
				WHERE session_start_time < $1
				ORDER BY session_start_time ASC
				LIMIT $2
			)
			DELETE FROM %[1]s t
			USING stale
			WHERE t.id = stale.id
		`, table), cutoff, h.batch())
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("%s rows affected: %w", table, err)
		}
		total += affected
		if affected < int64(h.batch()) {
			return total, nil
		}
	}
}

func (h *CleanupHandler) batch() int {
	if h.batchSize <= 0 {
		return 500
	}
	return h.batchSize
}

func (h *CleanupHandler) retention(configured time.Duration) time.Duration {
	if configured <= 0 {
		return 90 * 24 * time.Hour
	}
	return configured
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

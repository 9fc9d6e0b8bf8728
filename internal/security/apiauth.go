package security

import (
	"context"
	"database/sql"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/device"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/metrics"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/requestctx"
	"analytics-hub/internal/tenant"
)

const defaultSignatureValidity = 5 * time.Minute

var userIDPattern = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)

// exemptPathPrefixes lists paths that bypass signature authentication. The
// admin namespace has its own middleware; registration and token verification
// run before a device has credentials; public endpoints carry only a project
// id. Checked by prefix before any credential parsing.
var exemptPathPrefixes = []string{
	"/api/health",
	"/api/v1/auth/register",
	"/api/v1/auth/admin-token/verify",
	"/api/admin",
	"/api/public",
	"/api/cron",
	"/metrics",
}

type tenantResolver interface {
	Resolve(ctx context.Context, projectID string) (*tenant.Config, *sql.DB, error)
}

type deviceFinder interface {
	FindForAuth(ctx context.Context, db *sql.DB, table, apiKey, deviceID, projectID string) (*device.Device, error)
	TouchLastActive(ctx context.Context, db *sql.DB, table string, deviceID uuid.UUID) error
}

// APIAuth authenticates every data-plane request: resolves the project,
// validates the credential headers, enforces the replay window, verifies the
// HMAC signature against the device secret, and installs the request context.
type APIAuth struct {
	router   tenantResolver
	devices  deviceFinder
	logger   *observability.Logger
	metrics  metrics.AuthMetrics
	validity time.Duration
	now      func() time.Time
}

func NewAPIAuth(router tenantResolver, devices deviceFinder, logger *observability.Logger, m metrics.AuthMetrics) *APIAuth {
	if m == nil {
		m = metrics.Noop{}
	}
	return &APIAuth{
		router:   router,
		devices:  devices,
		logger:   logger,
		metrics:  m,
		validity: defaultSignatureValidity,
		now:      time.Now,
	}
}

// WithValidity overrides the replay window, used by bootstrap configuration.
func (a *APIAuth) WithValidity(validity time.Duration) *APIAuth {
	if validity > 0 {
		a.validity = validity
	}
	return a
}

func (a *APIAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		rc, err := a.authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}

		a.metrics.IncAuthSuccess("api")
		next.ServeHTTP(w, r.WithContext(requestctx.With(r.Context(), rc)))
	})
}

func (a *APIAuth) authenticate(r *http.Request) (*requestctx.Context, error) {
	projectID := r.Header.Get("X-Project-ID")
	if strings.TrimSpace(projectID) == "" {
		return nil, apperr.MissingProjectID()
	}

	cfg, db, err := a.router.Resolve(r.Context(), projectID)
	if err != nil {
		return nil, err
	}

	apiKey := r.Header.Get("X-API-Key")
	deviceID := r.Header.Get("X-Device-ID")
	userID := r.Header.Get("X-User-ID")
	timestamp := r.Header.Get("X-Timestamp")
	signature := r.Header.Get("X-Signature")

	if apiKey == "" || deviceID == "" || userID == "" || timestamp == "" || signature == "" {
		return nil, apperr.MissingHeaders()
	}

	if !cryptoutil.IsValidUUID(deviceID) {
		return nil, apperr.InvalidDeviceID()
	}
	if !userIDPattern.MatchString(userID) {
		return nil, apperr.InvalidUserID()
	}

	requestMillis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, apperr.InvalidTimestamp()
	}
	diff := a.now().UnixMilli() - requestMillis
	if diff < 0 {
		diff = -diff
	}
	if diff > a.validity.Milliseconds() {
		return nil, apperr.TimestampExpired()
	}

	dev, err := a.devices.FindForAuth(r.Context(), db, cfg.TableName("devices"), apiKey, deviceID, cfg.ProjectID)
	if err != nil {
		return nil, apperr.ProjectDBUnavailable(cfg.ProjectID)
	}
	if dev == nil {
		a.logger.Info("auth_unknown_device", map[string]any{
			"project_id": cfg.ProjectID,
			"device_id":  deviceID,
		})
		return nil, apperr.InvalidCredentials()
	}
	if dev.Banned {
		a.logger.Info("auth_banned_device", map[string]any{
			"project_id": cfg.ProjectID,
			"device_id":  deviceID,
		})
		return nil, apperr.DeviceBanned()
	}

	// The body is deliberately excluded from the signed string (empty
	// placeholder) so the stream is never consumed twice. An envelope captured
	// inside the validity window could be replayed with a different body;
	// changing that would break every deployed signing client.
	data := cryptoutil.BuildSignatureData(r.Method, r.URL.Path, timestamp, deviceID, userID, "")
	if !cryptoutil.VerifySignature(data, signature, dev.SecretKey) {
		a.logger.Info("auth_bad_signature", map[string]any{
			"project_id": cfg.ProjectID,
			"device_id":  deviceID,
		})
		return nil, apperr.InvalidSignature()
	}

	// Best effort: the bump feeds the active-device view, a failure never
	// fails an authenticated request.
	if err := a.devices.TouchLastActive(r.Context(), db, cfg.TableName("devices"), dev.DeviceID); err != nil {
		a.logger.Warn("device_touch_failed", map[string]any{
			"project_id": cfg.ProjectID,
			"device_id":  deviceID,
			"error":      err.Error(),
		})
	}

	return &requestctx.Context{
		ProjectID:   cfg.ProjectID,
		TablePrefix: cfg.TablePrefix,
		Device:      dev,
		UserID:      userID,
		DB:          db,
	}, nil
}

func (a *APIAuth) reject(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperr.As(err); ok {
		a.metrics.IncAuthFailure("api", appErr.Code)
	} else {
		a.metrics.IncAuthFailure("api", "AUTH_ERROR")
	}
	httpapi.WriteError(w, err)
}

func isExemptPath(path string) bool {
	for _, prefix := range exemptPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

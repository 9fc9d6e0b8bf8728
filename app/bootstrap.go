// Package app assembles the full HTTP surface: registry database, tenant
// router, both authentication middlewares and every handler. The same Build
// serves the long-running server and the serverless entrypoint.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"analytics-hub/internal/alert"
	"analytics-hub/internal/counter"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/db"
	"analytics-hub/internal/device"
	"analytics-hub/internal/event"
	"analytics-hub/internal/maintenance"
	"analytics-hub/internal/metrics"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/security"
	"analytics-hub/internal/session"
	"analytics-hub/internal/tenant"
	"analytics-hub/internal/traffic"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	registryDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	registryDB.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	registryDB.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	registryDB.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	registryDB.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := registryDB.Ping(); err != nil {
		_ = registryDB.Close()
		return nil, fmt.Errorf("ping registry database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), registryDB); err != nil {
			_ = registryDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	cipher := cryptoutil.NewSecretCipher(os.Getenv("CONFIG_ENC_KEY"))
	registry := tenant.NewRegistryStore(registryDB)
	router := tenant.NewRouter(registry, cipher, logger)

	var authMetrics metrics.AuthMetrics = metrics.Noop{}
	metricsEnabled := EnvBoolOrDefault("METRICS_ENABLED", false)
	if metricsEnabled {
		authMetrics = metrics.NewProm("analyticshub")
	}

	limiter := security.NewLimiter()
	gate := security.NewGate(os.Getenv("ADMIN_2FA_SECRET"), EnvBoolOrDefault("ADMIN_2FA_ENABLED", false), logger)
	notifier := alert.NewSentryNotifier(logger)

	deviceStore := device.NewStore()
	apiAuth := security.NewAPIAuth(router, deviceStore, logger, authMetrics).
		WithValidity(envMinutesOrDefault("AUTH_TIMESTAMP_VALIDITY_MINUTES", 5))
	adminAuth := security.NewAdminAuth(os.Getenv("ADMIN_TOKEN"), limiter, gate, notifier, logger, authMetrics)

	deviceHandler := device.NewHandler(device.NewService(router, deviceStore, logger))
	eventHandler := event.NewHandler(event.NewStore(), logger)
	sessionHandler := session.NewHandler(session.NewStore(), logger)
	counterHandler := counter.NewHandler(router, counter.NewStore(), logger)
	trafficHandler := traffic.NewHandler(router, traffic.NewStore(), logger, os.Getenv("TRAFFIC_IP_HASH_SALT"))
	projectHandler := tenant.NewAdminHandler(registry, router, cipher, logger)
	cleanupHandler := maintenance.NewCleanupHandler(
		registry,
		router,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("EVENT_RETENTION_DAYS", 90),
		envDaysOrDefault("SESSION_RETENTION_DAYS", 90),
		envDaysOrDefault("TRAFFIC_RETENTION_DAYS", 90),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", healthHandler(registryDB))
	mux.HandleFunc("POST /api/v1/auth/register", deviceHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/admin-token/verify", adminAuth.VerifyToken)

	mux.HandleFunc("POST /api/v1/events/track", eventHandler.Track)
	mux.HandleFunc("POST /api/v1/events/batch", eventHandler.TrackBatch)
	mux.HandleFunc("POST /api/v1/sessions", sessionHandler.Upload)
	mux.HandleFunc("POST /api/v1/traffic-metrics/track", trafficHandler.Track)
	mux.HandleFunc("POST /api/v1/traffic-metrics/batch", trafficHandler.TrackBatch)

	mux.HandleFunc("POST /api/public/traffic/track", trafficHandler.PublicTrack)
	mux.HandleFunc("POST /api/public/traffic/batch", trafficHandler.PublicTrackBatch)
	mux.HandleFunc("GET /api/public/counters", counterHandler.PublicList)
	mux.HandleFunc("GET /api/public/counters/{key}", counterHandler.PublicGet)

	admin := func(h http.HandlerFunc) http.Handler { return adminAuth.Middleware(h) }
	mux.Handle("GET /api/admin/projects", admin(projectHandler.List))
	mux.Handle("POST /api/admin/projects", admin(projectHandler.Create))
	mux.Handle("GET /api/admin/projects/{id}", admin(projectHandler.Get))
	mux.Handle("PUT /api/admin/projects/{id}", admin(projectHandler.Update))
	mux.Handle("DELETE /api/admin/projects/{id}", admin(projectHandler.Delete))
	mux.Handle("POST /api/admin/projects/{id}/reload", admin(projectHandler.Reload))
	mux.Handle("POST /api/admin/projects/{id}/test-connection", admin(projectHandler.TestConnection))
	mux.Handle("POST /api/admin/projects/{id}/init-schema", admin(projectHandler.InitSchema))
	mux.Handle("GET /api/admin/projects/{id}/health", admin(projectHandler.Health))

	mux.Handle("GET /api/admin/counters", admin(counterHandler.AdminList))
	mux.Handle("GET /api/admin/counters/{key}", admin(counterHandler.AdminGet))
	mux.Handle("PUT /api/admin/counters/{key}", admin(counterHandler.AdminUpsert))
	mux.Handle("POST /api/admin/counters/{key}/increment", admin(counterHandler.AdminIncrement))
	mux.Handle("DELETE /api/admin/counters/{key}", admin(counterHandler.AdminDelete))

	mux.Handle("GET /api/admin/security/2fa/setup", admin(adminAuth.TwoFactorSetup))

	mux.HandleFunc("GET /api/cron/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /api/cron/cleanup", cleanupHandler.Handle)

	if metricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			apiAuth.Middleware(mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			router.Close()
			return registryDB.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/db"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type adminStore interface {
	List(ctx context.Context) ([]*Config, error)
	GetByID(ctx context.Context, id int64) (*Config, error)
	GetConfig(ctx context.Context, projectID string) (*Config, error)
	Create(ctx context.Context, cfg *Config) (*Config, error)
	Update(ctx context.Context, cfg *Config) (*Config, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// AdminHandler is the project management surface: registry CRUD, router
// reloads and tenant database provisioning. Provisioning operations open a
// short-lived connection from the registry config instead of going through
// the router, so they work against inactive projects too.
type AdminHandler struct {
	store  adminStore
	router *Router
	cipher *cryptoutil.SecretCipher
	logger *observability.Logger

	// openDB is swapped in tests.
	openDB func(ctx context.Context, cfg *Config, password string) (*sql.DB, error)
}

func NewAdminHandler(store adminStore, router *Router, cipher *cryptoutil.SecretCipher, logger *observability.Logger) *AdminHandler {
	h := &AdminHandler{store: store, router: router, cipher: cipher, logger: logger}
	h.openDB = h.openAdminDB
	return h
}

type projectRequest struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	DBHost      string `json:"dbHost"`
	DBPort      *int   `json:"dbPort"`
	DBName      string `json:"dbName"`
	DBUser      string `json:"dbUser"`
	DBPassword  string `json:"dbPassword"`
	TablePrefix string `json:"tablePrefix"`
	Active      *bool  `json:"isActive"`
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list projects")
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, configs)
}

func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, cfg)
}

func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProjectRequest(w, r)
	if !ok {
		return
	}

	projectID, ok := NormalizeProjectID(req.ProjectID)
	if !ok {
		badRequest(w, "projectId must be 1-50 characters of a-z, 0-9, _ or -")
		return
	}
	cfg, err := h.buildConfig(&Config{ProjectID: projectID, Active: true}, req)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.DBPassword) == "" {
		badRequest(w, "dbPassword is required")
		return
	}

	existing, err := h.store.GetConfig(r.Context(), projectID)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to check project")
		return
	}
	if existing != nil {
		httpapi.WriteError(w, apperr.ProjectExists())
		return
	}

	created, err := h.store.Create(r.Context(), cfg)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create project")
		return
	}

	h.router.Reload(created.ProjectID)
	h.logger.Info("project_created", map[string]any{"project_id": created.ProjectID})
	httpapi.WriteSuccess(w, http.StatusCreated, created)
}

func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	req, ok := decodeProjectRequest(w, r)
	if !ok {
		return
	}

	updated := *cfg
	if _, err := h.buildConfig(&updated, req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.store.Update(r.Context(), &updated)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to update project")
		return
	}
	if result == nil {
		httpapi.WriteError(w, apperr.ProjectNotFound())
		return
	}

	h.router.Reload(result.ProjectID)
	h.logger.Info("project_updated", map[string]any{"project_id": result.ProjectID})
	httpapi.WriteSuccess(w, http.StatusOK, result)
}

func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.Delete(r.Context(), cfg.ID)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to delete project")
		return
	}
	if !deleted {
		httpapi.WriteError(w, apperr.ProjectNotFound())
		return
	}

	h.router.Reload(cfg.ProjectID)
	h.logger.Info("project_deleted", map[string]any{"project_id": cfg.ProjectID})
	httpapi.WriteSuccess(w, http.StatusOK, cfg)
}

func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	h.router.Reload(cfg.ProjectID)
	h.logger.Info("project_reloaded", map[string]any{"project_id": cfg.ProjectID})
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"projectId": cfg.ProjectID, "reloaded": true})
}

func (h *AdminHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	conn, err := h.connect(r.Context(), cfg)
	if err != nil {
		h.logger.Error("project_connection_test_failed", map[string]any{
			"project_id": cfg.ProjectID,
			"error":      err.Error(),
		})
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "DB_CONNECTION_FAILED", "connection failed: "+err.Error())
		return
	}
	conn.Close()

	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"connected": true})
}

func (h *AdminHandler) InitSchema(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	conn, err := h.connect(r.Context(), cfg)
	if err != nil {
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "PROJECT_INIT_FAILED", "initialization failed: "+err.Error())
		return
	}
	defer conn.Close()

	for _, stmt := range db.TenantSchema(cfg.TablePrefix) {
		if _, err := conn.ExecContext(r.Context(), stmt); err != nil {
			sentry.CaptureException(err)
			httpapi.WriteErrorCode(w, http.StatusInternalServerError, "PROJECT_INIT_FAILED", "initialization failed: "+err.Error())
			return
		}
	}

	tables := make([]string, 0, len(db.TenantTables))
	for _, logical := range db.TenantTables {
		tables = append(tables, cfg.TableName(logical))
	}

	h.logger.Info("project_schema_initialized", map[string]any{"project_id": cfg.ProjectID})
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{
		"projectId": cfg.ProjectID,
		"tables":    tables,
	})
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	conn, err := h.connect(r.Context(), cfg)
	if err != nil {
		httpapi.WriteSuccess(w, http.StatusOK, map[string]any{
			"connected": false,
			"tables":    map[string]bool{},
			"healthy":   false,
			"error":     err.Error(),
		})
		return
	}
	defer conn.Close()

	tables := make(map[string]bool, len(db.TenantTables))
	healthy := true
	for _, logical := range db.TenantTables {
		var exists bool
		err := conn.QueryRowContext(r.Context(), `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, cfg.TableName(logical)).Scan(&exists)
		if err != nil {
			sentry.CaptureException(err)
			httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to check tables")
			return
		}
		tables[logical] = exists
		healthy = healthy && exists
	}

	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{
		"connected": true,
		"tables":    tables,
		"healthy":   healthy,
	})
}

// buildConfig applies the request onto cfg, normalizing each supplied field.
// Absent fields keep their current values, which makes Update partial.
func (h *AdminHandler) buildConfig(cfg *Config, req *projectRequest) (*Config, error) {
	if req.ProjectName != "" {
		cfg.ProjectName = req.ProjectName
	}
	if req.DBHost != "" {
		cfg.DBHost = strings.TrimSpace(req.DBHost)
	}
	if req.DBPort != nil {
		port, ok := NormalizeDBPort(*req.DBPort)
		if !ok {
			return nil, errors.New("dbPort must be 1-65535")
		}
		cfg.DBPort = port
	} else if cfg.DBPort == 0 {
		cfg.DBPort, _ = NormalizeDBPort(0)
	}
	if req.DBName != "" {
		name, ok := NormalizeDBName(req.DBName)
		if !ok {
			return nil, errors.New("dbName must be a lowercase identifier of at most 63 characters")
		}
		cfg.DBName = name
	}
	if req.DBUser != "" {
		cfg.DBUser = strings.TrimSpace(req.DBUser)
	}
	if req.TablePrefix != "" || cfg.TablePrefix == "" {
		prefix, ok := NormalizeTablePrefix(req.TablePrefix)
		if !ok {
			return nil, errors.New("tablePrefix must be a lowercase identifier of at most 40 characters")
		}
		cfg.TablePrefix = prefix
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if strings.TrimSpace(req.DBPassword) != "" {
		encrypted, err := h.cipher.Encrypt(req.DBPassword)
		if err != nil {
			return nil, fmt.Errorf("encrypt password: %w", err)
		}
		cfg.DBPasswordEncrypted = encrypted
	}

	if cfg.ProjectName == "" {
		return nil, errors.New("projectName is required")
	}
	if cfg.DBHost == "" {
		return nil, errors.New("dbHost is required")
	}
	if cfg.DBName == "" {
		return nil, errors.New("dbName is required")
	}
	if cfg.DBUser == "" {
		return nil, errors.New("dbUser is required")
	}
	return cfg, nil
}

func (h *AdminHandler) requireProject(w http.ResponseWriter, r *http.Request) (*Config, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid project id")
		return nil, false
	}

	cfg, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		sentry.CaptureException(err)
		httpapi.WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load project")
		return nil, false
	}
	if cfg == nil {
		httpapi.WriteError(w, apperr.ProjectNotFound())
		return nil, false
	}
	return cfg, true
}

func (h *AdminHandler) connect(ctx context.Context, cfg *Config) (*sql.DB, error) {
	password, err := h.cipher.Decrypt(cfg.DBPasswordEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}
	return h.openDB(ctx, cfg, password)
}

// openAdminDB opens a throwaway single-connection pool for provisioning
// operations; callers close it when done.
func (h *AdminHandler) openAdminDB(ctx context.Context, cfg *Config, password string) (*sql.DB, error) {
	conn, err := sql.Open("pgx", connString(cfg, password))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(0)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func decodeProjectRequest(w http.ResponseWriter, r *http.Request) (*projectRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var req projectRequest
	if err := decoder.Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return nil, false
	}
	return &req, true
}

func badRequest(w http.ResponseWriter, message string) {
	httpapi.WriteErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/observability"
)

const (
	// Per-tenant pools stay intentionally small: the data plane runs one
	// device lookup per request and admin operations are infrequent.
	poolMaxOpenConns    = 2
	poolMaxIdleConns    = 1
	poolConnMaxLifetime = 30 * time.Minute
	poolConnMaxIdleTime = 5 * time.Minute

	pingTimeout = 3 * time.Second
)

// Router resolves a project id to its cached configuration and a lazily
// created per-tenant connection pool. Pool creation is memoized per project
// under once semantics so concurrent first use builds a single pool.
type Router struct {
	store  Store
	cipher *cryptoutil.SecretCipher
	logger *observability.Logger

	// openPool is swapped in tests; the default opens a pgx-backed pool and
	// pings it once.
	openPool func(ctx context.Context, cfg *Config, password string) (*sql.DB, error)

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	once sync.Once
	cfg  *Config
	db   *sql.DB
	err  error
}

func NewRouter(store Store, cipher *cryptoutil.SecretCipher, logger *observability.Logger) *Router {
	r := &Router{
		store:   store,
		cipher:  cipher,
		logger:  logger,
		entries: make(map[string]*poolEntry),
	}
	r.openPool = r.openAndPing
	return r
}

// Resolve returns the project configuration and its pooled connection,
// creating the pool on first use. Failed resolutions are not cached: the
// entry is evicted so the next call re-reads the registry and retries.
func (r *Router) Resolve(ctx context.Context, projectID string) (*Config, *sql.DB, error) {
	id, ok := NormalizeProjectID(projectID)
	if !ok {
		return nil, nil, apperr.InvalidProject(projectID)
	}

	entry := r.entry(id)
	entry.once.Do(func() {
		entry.cfg, entry.db, entry.err = r.build(ctx, id)
	})

	if entry.err != nil {
		r.evict(id, entry)
		return nil, nil, entry.err
	}
	if !entry.cfg.Active {
		return nil, nil, apperr.ProjectInactive()
	}
	return entry.cfg, entry.db, nil
}

// Reload drops the cached entry for a project and closes its pool. A resolve
// already in flight may finish against the old pool; no later resolve can
// reuse it because the entry is removed before the pool is closed. Closing
// waits for an unfinished build of the same entry.
func (r *Router) Reload(projectID string) {
	id, ok := NormalizeProjectID(projectID)
	if !ok {
		return
	}

	r.mu.Lock()
	entry := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if entry == nil {
		return
	}

	go func() {
		entry.once.Do(func() {})
		if entry.db != nil {
			if err := entry.db.Close(); err != nil && r.logger != nil {
				r.logger.Error("tenant_pool_close_failed", map[string]any{
					"project_id": id,
					"error":      err.Error(),
				})
			}
		}
	}()
}

// TableName derives the physical table name from the cached configuration,
// falling back to the default prefix when the project is not cached yet. It
// never reads the registry.
func (r *Router) TableName(projectID, logical string) string {
	id, ok := NormalizeProjectID(projectID)
	if !ok {
		return DefaultTablePrefix + logical
	}

	r.mu.Lock()
	entry := r.entries[id]
	r.mu.Unlock()

	if entry == nil || entry.cfg == nil {
		return DefaultTablePrefix + logical
	}
	return entry.cfg.TableName(logical)
}

// Close drops every cached entry and closes the pools. Used on shutdown.
func (r *Router) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*poolEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.once.Do(func() {})
		if entry.db != nil {
			_ = entry.db.Close()
		}
	}
}

func (r *Router) entry(id string) *poolEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entries[id]
	if entry == nil {
		entry = &poolEntry{}
		r.entries[id] = entry
	}
	return entry
}

func (r *Router) evict(id string, entry *poolEntry) {
	r.mu.Lock()
	if r.entries[id] == entry {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

func (r *Router) build(ctx context.Context, id string) (*Config, *sql.DB, error) {
	cfg, err := r.store.GetConfig(ctx, id)
	if err != nil {
		return nil, nil, apperr.ProjectDBUnavailable(id)
	}
	if cfg == nil {
		return nil, nil, apperr.InvalidProject(id)
	}
	if !cfg.Active {
		// Cache the config but do not open a pool for an inactive project;
		// activation goes through the admin surface, which reloads.
		return cfg, nil, nil
	}

	password, err := r.cipher.Decrypt(cfg.DBPasswordEncrypted)
	if err != nil {
		return nil, nil, apperr.ProjectDBUnavailable(id)
	}

	db, err := r.openPool(ctx, cfg, password)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("tenant_pool_open_failed", map[string]any{
				"project_id": id,
				"error":      err.Error(),
			})
		}
		return nil, nil, apperr.ProjectDBUnavailable(id)
	}

	if r.logger != nil {
		r.logger.Info("tenant_pool_created", map[string]any{"project_id": id})
	}
	return cfg, db, nil
}

func (r *Router) openAndPing(ctx context.Context, cfg *Config, password string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString(cfg, password))
	if err != nil {
		return nil, fmt.Errorf("open tenant pool: %w", err)
	}

	db.SetMaxOpenConns(poolMaxOpenConns)
	db.SetMaxIdleConns(poolMaxIdleConns)
	db.SetConnMaxLifetime(poolConnMaxLifetime)
	db.SetConnMaxIdleTime(poolConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping tenant database: %w", err)
	}
	return db, nil
}

func connString(cfg *Config, password string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.DBUser, password),
		Host:   fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:   "/" + cfg.DBName,
	}
	q := url.Values{}
	q.Set("connect_timeout", "5")
	u.RawQuery = q.Encode()
	return u.String()
}

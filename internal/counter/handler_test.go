package counter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/tenant"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, projectID string) (*tenant.Config, *sql.DB, error) {
	if projectID != "mobile-app" {
		return nil, nil, apperr.InvalidProject(projectID)
	}
	return &tenant.Config{ProjectID: "mobile-app", TablePrefix: "analytics_", Active: true}, nil, nil
}

type fakeCounterStore struct {
	counters map[string]*Counter

	lastOnlyPublic bool
	lastPatch      *Patch
	lastDelta      int64
	lastTable      string
	deleted        []string
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{counters: map[string]*Counter{}}
}

func (s *fakeCounterStore) List(_ context.Context, _ *sql.DB, table, _ string, onlyPublic bool) ([]*Counter, error) {
	s.lastTable = table
	s.lastOnlyPublic = onlyPublic
	items := make([]*Counter, 0)
	for _, c := range s.counters {
		if onlyPublic && !c.Public {
			continue
		}
		items = append(items, c)
	}
	return items, nil
}

func (s *fakeCounterStore) Get(_ context.Context, _ *sql.DB, table, _, key string, onlyPublic bool) (*Counter, error) {
	s.lastTable = table
	s.lastOnlyPublic = onlyPublic
	c, ok := s.counters[key]
	if !ok || (onlyPublic && !c.Public) {
		return nil, nil
	}
	return c, nil
}

func (s *fakeCounterStore) Upsert(_ context.Context, _ *sql.DB, table, _, key string, patch *Patch) error {
	s.lastTable = table
	s.lastPatch = patch
	c, ok := s.counters[key]
	if !ok {
		c = &Counter{Key: key}
		s.counters[key] = c
	}
	if patch.Value != nil {
		c.Value = *patch.Value
	}
	if patch.Public != nil {
		c.Public = *patch.Public
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeCounterStore) Increment(_ context.Context, _ *sql.DB, table, _, key string, delta int64) error {
	s.lastTable = table
	s.lastDelta = delta
	c, ok := s.counters[key]
	if !ok {
		c = &Counter{Key: key}
		s.counters[key] = c
	}
	c.Value += delta
	return nil
}

func (s *fakeCounterStore) Delete(_ context.Context, _ *sql.DB, _, _, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.counters, key)
	return nil
}

func newMux(store *fakeCounterStore) *http.ServeMux {
	h := NewHandler(fakeResolver{}, store, observability.NewLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/counters", h.AdminList)
	mux.HandleFunc("GET /api/admin/counters/{key}", h.AdminGet)
	mux.HandleFunc("PUT /api/admin/counters/{key}", h.AdminUpsert)
	mux.HandleFunc("DELETE /api/admin/counters/{key}", h.AdminDelete)
	mux.HandleFunc("POST /api/admin/counters/{key}/increment", h.AdminIncrement)
	mux.HandleFunc("GET /api/public/counters", h.PublicList)
	mux.HandleFunc("GET /api/public/counters/{key}", h.PublicGet)
	return mux
}

func do(mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	var encoded []byte
	if body != nil {
		encoded, _ = json.Marshal(body)
	}
	r := httptest.NewRequest(method, target, bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func TestAdminUpsertCounter(t *testing.T) {
	store := newFakeCounterStore()
	mux := newMux(store)

	rec := do(mux, http.MethodPut, "/api/admin/counters/downloads?projectId=mobile-app", map[string]any{
		"value":    100,
		"isPublic": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.lastTable != "analytics_counters" {
		t.Fatalf("table = %q", store.lastTable)
	}
	if store.lastPatch == nil || store.lastPatch.Value == nil || *store.lastPatch.Value != 100 {
		t.Fatalf("patch = %+v", store.lastPatch)
	}
	c := store.counters["downloads"]
	if c == nil || c.Value != 100 || !c.Public {
		t.Fatalf("counter = %+v", c)
	}

	// a second patch without value keeps the stored value
	rec = do(mux, http.MethodPut, "/api/admin/counters/downloads?projectId=mobile-app", map[string]any{
		"description": "app downloads",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := store.counters["downloads"]; c.Value != 100 || c.Description != "app downloads" {
		t.Fatalf("counter = %+v", c)
	}
}

func TestAdminIncrementCounter(t *testing.T) {
	store := newFakeCounterStore()
	mux := newMux(store)

	rec := do(mux, http.MethodPost, "/api/admin/counters/hits/increment?projectId=mobile-app", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.lastDelta != 1 {
		t.Fatalf("default delta = %d", store.lastDelta)
	}

	do(mux, http.MethodPost, "/api/admin/counters/hits/increment?projectId=mobile-app", map[string]any{"delta": 5})
	if store.lastDelta != 5 {
		t.Fatalf("delta = %d", store.lastDelta)
	}
	if store.counters["hits"].Value != 6 {
		t.Fatalf("value = %d", store.counters["hits"].Value)
	}
}

func TestPublicCounterVisibility(t *testing.T) {
	store := newFakeCounterStore()
	store.counters["open"] = &Counter{Key: "open", Value: 10, Public: true}
	store.counters["hidden"] = &Counter{Key: "hidden", Value: 20}
	mux := newMux(store)

	rec := do(mux, http.MethodGet, "/api/public/counters/open?projectId=mobile-app", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public get status = %d", rec.Code)
	}
	if !store.lastOnlyPublic {
		t.Fatal("public read did not restrict to public rows")
	}

	rec = do(mux, http.MethodGet, "/api/public/counters/hidden?projectId=mobile-app", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("hidden counter status = %d", rec.Code)
	}

	rec = do(mux, http.MethodGet, "/api/admin/counters/hidden?projectId=mobile-app", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin get status = %d", rec.Code)
	}
	if store.lastOnlyPublic {
		t.Fatal("admin read restricted to public rows")
	}
}

func TestCounterProjectResolution(t *testing.T) {
	store := newFakeCounterStore()
	mux := newMux(store)

	rec := do(mux, http.MethodGet, "/api/public/counters", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing project status = %d", rec.Code)
	}

	rec = do(mux, http.MethodGet, "/api/public/counters?projectId=ghost", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown project status = %d", rec.Code)
	}

	// header fallback
	r := httptest.NewRequest(http.MethodGet, "/api/public/counters", nil)
	r.Header.Set("X-Project-ID", "mobile-app")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("header fallback status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp httpapi.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatal("success = false")
	}
}

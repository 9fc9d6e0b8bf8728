package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/device"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/requestctx"
	"analytics-hub/internal/tenant"
)

type fakeResolver struct {
	configs map[string]*tenant.Config
}

func (f *fakeResolver) Resolve(_ context.Context, projectID string) (*tenant.Config, *sql.DB, error) {
	cfg, ok := f.configs[projectID]
	if !ok {
		return nil, nil, apperr.InvalidProject(projectID)
	}
	if !cfg.Active {
		return nil, nil, apperr.ProjectInactive()
	}
	return cfg, nil, nil
}

type fakeFinder struct {
	devices  map[string]*device.Device
	err      error
	touched  []uuid.UUID
	touchErr error
}

func (f *fakeFinder) FindForAuth(_ context.Context, _ *sql.DB, _, apiKey, deviceID, _ string) (*device.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices[apiKey+"|"+deviceID], nil
}

func (f *fakeFinder) TouchLastActive(_ context.Context, _ *sql.DB, _ string, deviceID uuid.UUID) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, deviceID)
	return nil
}

const (
	testUserID    = "0123456789abcdef0123456789abcdef"
	testProjectID = "mobile-app"
)

var testDeviceID = uuid.MustParse("3f1a9c2e-6d4b-4e8a-9f21-58c7d0aa41be")

func newTestAPIAuth(t *testing.T) (*APIAuth, *fakeFinder, *fakeClock) {
	t.Helper()
	clock := newClock()
	dev := &device.Device{
		DeviceID:  testDeviceID,
		APIKey:    "ak_test",
		SecretKey: "sk_test_secret",
		ProjectID: testProjectID,
	}
	finder := &fakeFinder{devices: map[string]*device.Device{
		"ak_test|" + testDeviceID.String(): dev,
	}}
	resolver := &fakeResolver{configs: map[string]*tenant.Config{
		testProjectID: {ProjectID: testProjectID, TablePrefix: "analytics_", Active: true},
		"dormant":     {ProjectID: "dormant", TablePrefix: "analytics_", Active: false},
	}}
	a := NewAPIAuth(resolver, finder, observability.NewLogger(), nil)
	a.now = clock.Now
	return a, finder, clock
}

func signedRequest(method, path string, now time.Time) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	r.Header.Set("X-Project-ID", testProjectID)
	r.Header.Set("X-API-Key", "ak_test")
	r.Header.Set("X-Device-ID", testDeviceID.String())
	r.Header.Set("X-User-ID", testUserID)
	r.Header.Set("X-Timestamp", ts)
	data := cryptoutil.BuildSignatureData(method, path, ts, testDeviceID.String(), testUserID, "")
	r.Header.Set("X-Signature", cryptoutil.Sign(data, "sk_test_secret"))
	return r
}

func serve(a *APIAuth, r *http.Request) (*httptest.ResponseRecorder, *requestctx.Context) {
	var captured *requestctx.Context
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = requestctx.From(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, captured
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpapi.Response {
	t.Helper()
	var resp httpapi.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func assertRejected(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Success {
		t.Fatal("success = true on rejection")
	}
	if resp.Error == nil || resp.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", resp.Error, code)
	}
}

func TestAPIAuthAcceptsSignedRequest(t *testing.T) {
	a, finder, clock := newTestAPIAuth(t)

	rec, rc := serve(a, signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rc == nil {
		t.Fatal("request context not installed")
	}
	if rc.ProjectID != testProjectID || rc.UserID != testUserID {
		t.Fatalf("context = %+v", rc)
	}
	if rc.Device == nil || rc.Device.APIKey != "ak_test" {
		t.Fatalf("device = %+v", rc.Device)
	}
	if got := rc.TableName("events"); got != "analytics_events" {
		t.Fatalf("TableName = %q", got)
	}
	if len(finder.touched) != 1 || finder.touched[0] != testDeviceID {
		t.Fatalf("touched = %v, want one bump for the device", finder.touched)
	}
}

func TestAPIAuthTouchFailureDoesNotReject(t *testing.T) {
	a, finder, clock := newTestAPIAuth(t)
	finder.touchErr = fmt.Errorf("connection reset")

	rec, rc := serve(a, signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d when the touch fails, body %s", rec.Code, rec.Body.String())
	}
	if rc == nil {
		t.Fatal("request context not installed")
	}
}

func TestAPIAuthExemptPaths(t *testing.T) {
	a, _, _ := newTestAPIAuth(t)

	for _, path := range []string{
		"/api/health",
		"/api/v1/auth/register",
		"/api/v1/auth/admin-token/verify",
		"/api/admin/projects",
		"/api/public/stats",
		"/metrics",
	} {
		rec, rc := serve(a, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200 without credentials", path, rec.Code)
		}
		if rc != nil {
			t.Errorf("%s: identity installed on exempt path", path)
		}
	}
}

func TestAPIAuthHeaderValidation(t *testing.T) {
	a, _, clock := newTestAPIAuth(t)

	cases := []struct {
		name   string
		mutate func(r *http.Request)
		status int
		code   string
	}{
		{"missing project", func(r *http.Request) { r.Header.Del("X-Project-ID") }, http.StatusBadRequest, "MISSING_PROJECT_ID"},
		{"unknown project", func(r *http.Request) { r.Header.Set("X-Project-ID", "nobody") }, http.StatusUnauthorized, "INVALID_PROJECT"},
		{"inactive project", func(r *http.Request) { r.Header.Set("X-Project-ID", "dormant") }, http.StatusForbidden, "PROJECT_INACTIVE"},
		{"missing api key", func(r *http.Request) { r.Header.Del("X-API-Key") }, http.StatusUnauthorized, "MISSING_HEADERS"},
		{"missing signature", func(r *http.Request) { r.Header.Del("X-Signature") }, http.StatusUnauthorized, "MISSING_HEADERS"},
		{"bad device id", func(r *http.Request) { r.Header.Set("X-Device-ID", "not-a-uuid") }, http.StatusBadRequest, "INVALID_DEVICE_ID"},
		{"bad user id", func(r *http.Request) { r.Header.Set("X-User-ID", "short") }, http.StatusBadRequest, "INVALID_USER_ID"},
		{"bad timestamp", func(r *http.Request) { r.Header.Set("X-Timestamp", "yesterday") }, http.StatusBadRequest, "INVALID_TIMESTAMP"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now())
			tc.mutate(r)
			rec, rc := serve(a, r)
			assertRejected(t, rec, tc.status, tc.code)
			if rc != nil {
				t.Fatal("identity installed on rejected request")
			}
		})
	}
}

func TestAPIAuthReplayWindow(t *testing.T) {
	a, _, clock := newTestAPIAuth(t)

	// exactly at the boundary on both sides: still accepted
	for _, skew := range []time.Duration{-defaultSignatureValidity, defaultSignatureValidity} {
		rec, _ := serve(a, signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now().Add(skew)))
		if rec.Code != http.StatusOK {
			t.Errorf("skew %v: status = %d, body %s", skew, rec.Code, rec.Body.String())
		}
	}

	for _, skew := range []time.Duration{
		-defaultSignatureValidity - time.Millisecond,
		defaultSignatureValidity + time.Millisecond,
	} {
		rec, _ := serve(a, signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now().Add(skew)))
		assertRejected(t, rec, http.StatusUnauthorized, "TIMESTAMP_EXPIRED")
	}
}

func TestAPIAuthDeviceChecks(t *testing.T) {
	a, finder, clock := newTestAPIAuth(t)

	r := signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now())
	r.Header.Set("X-API-Key", "ak_unknown")
	rec, _ := serve(a, r)
	assertRejected(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	finder.devices["ak_test|"+testDeviceID.String()].Banned = true
	rec, _ = serve(a, signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now()))
	assertRejected(t, rec, http.StatusForbidden, "DEVICE_BANNED")
	finder.devices["ak_test|"+testDeviceID.String()].Banned = false

	finder.err = fmt.Errorf("connection refused")
	rec, _ = serve(a, signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now()))
	assertRejected(t, rec, http.StatusServiceUnavailable, "PROJECT_DB_UNAVAILABLE")
	finder.err = nil
}

func TestAPIAuthSignatureMismatch(t *testing.T) {
	a, _, clock := newTestAPIAuth(t)

	r := signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now())
	r.Header.Set("X-Signature", cryptoutil.Sign("tampered", "sk_test_secret"))
	rec, _ := serve(a, r)
	assertRejected(t, rec, http.StatusUnauthorized, "INVALID_SIGNATURE")

	// signature over a different path does not transfer
	r = signedRequest(http.MethodPost, "/api/v1/events/track", clock.Now())
	other := signedRequest(http.MethodPost, "/api/v1/sessions/start", clock.Now())
	r.Header.Set("X-Signature", other.Header.Get("X-Signature"))
	rec, _ = serve(a, r)
	assertRejected(t, rec, http.StatusUnauthorized, "INVALID_SIGNATURE")
}

package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"analytics-hub/internal/observability"
)

type fakeNotifier struct {
	fired chan string
}

func (f *fakeNotifier) BruteForceDetected(ip string, failures int) {
	f.fired <- ip
}

type adminFixture struct {
	auth     *AdminAuth
	limiter  *Limiter
	gate     *Gate
	notifier *fakeNotifier
	clock    *fakeClock
}

func newAdminFixture(t *testing.T, gateSecret string, gateEnabled bool) *adminFixture {
	t.Helper()
	clock := newClock()
	limiter := newLimiter(clock.Now)
	gate := newGate(gateSecret, gateEnabled, nil, clock.Now)
	notifier := &fakeNotifier{fired: make(chan string, 2)}
	auth := NewAdminAuth("correct-admin-token", limiter, gate, notifier, observability.NewLogger(), nil)
	return &adminFixture{auth: auth, limiter: limiter, gate: gate, notifier: notifier, clock: clock}
}

func (f *adminFixture) do(r *http.Request) *httptest.ResponseRecorder {
	h := f.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func adminRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/admin/projects", nil)
	r.RemoteAddr = "192.0.2.10:4411"
	if token != "" {
		r.Header.Set("X-Admin-Token", token)
	}
	return r
}

func TestAdminAuthAcceptsToken(t *testing.T) {
	f := newAdminFixture(t, "", false)

	if rec := f.do(adminRequest("correct-admin-token")); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	bearer := adminRequest("")
	bearer.Header.Set("Authorization", "Bearer correct-admin-token")
	if rec := f.do(bearer); rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminAuthMissingToken(t *testing.T) {
	f := newAdminFixture(t, "", false)

	rec := f.do(adminRequest(""))
	assertRejected(t, rec, http.StatusUnauthorized, "ADMIN_TOKEN_MISSING")
	if got := f.limiter.FailureCount("192.0.2.10"); got != 0 {
		t.Fatalf("FailureCount = %d, want 0 for a missing header", got)
	}
}

func TestAdminAuthMissingTokenNeverBans(t *testing.T) {
	f := newAdminFixture(t, "", false)

	// a client with a misconfigured header retries well past the threshold
	for i := 0; i < banThreshold+2; i++ {
		assertRejected(t, f.do(adminRequest("")), http.StatusUnauthorized, "ADMIN_TOKEN_MISSING")
	}

	if rec := f.do(adminRequest("correct-admin-token")); rec.Code != http.StatusOK {
		t.Fatalf("status = %d after tokenless requests, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	select {
	case <-f.notifier.fired:
		t.Fatal("brute-force alert fired for missing headers")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdminAuthRejectsQueryToken(t *testing.T) {
	f := newAdminFixture(t, "", false)

	for _, target := range []string{
		"/api/admin/projects?token=correct-admin-token",
		"/api/admin/projects?admin_token=x",
		"/api/admin/projects?access_token=x",
	} {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		r.RemoteAddr = "192.0.2.10:4411"
		r.Header.Set("X-Admin-Token", "correct-admin-token")
		rec := f.do(r)
		assertRejected(t, rec, http.StatusUnauthorized, "ADMIN_TOKEN_INVALID")
	}
}

func TestAdminAuthUnconfiguredToken(t *testing.T) {
	f := newAdminFixture(t, "", false)
	f.auth.token = ""

	rec := f.do(adminRequest("anything"))
	assertRejected(t, rec, http.StatusServiceUnavailable, "ADMIN_TOKEN_NOT_CONFIGURED")
}

func TestAdminAuthBanAfterRepeatedFailures(t *testing.T) {
	f := newAdminFixture(t, "", false)

	for i := 0; i < banThreshold; i++ {
		rec := f.do(adminRequest("wrong-token"))
		assertRejected(t, rec, http.StatusUnauthorized, "ADMIN_TOKEN_INVALID")
	}

	select {
	case ip := <-f.notifier.fired:
		if ip != "192.0.2.10" {
			t.Fatalf("alert for ip %q, want 192.0.2.10", ip)
		}
	case <-time.After(time.Second):
		t.Fatal("brute-force alert never fired")
	}

	// banned: even the correct token is not examined
	rec := f.do(adminRequest("correct-admin-token"))
	assertRejected(t, rec, http.StatusForbidden, "TOO_MANY_ATTEMPTS")

	// one alert per ban, not one per rejected request
	select {
	case <-f.notifier.fired:
		t.Fatal("alert fired again for the same ban")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdminAuthSuccessResetsFailures(t *testing.T) {
	f := newAdminFixture(t, "", false)

	for i := 0; i < banThreshold-1; i++ {
		f.do(adminRequest("wrong-token"))
	}
	if rec := f.do(adminRequest("correct-admin-token")); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := f.limiter.FailureCount("192.0.2.10"); got != 0 {
		t.Fatalf("FailureCount = %d after success, want 0", got)
	}
}

func TestAdminAuthTwoFactorChallenge(t *testing.T) {
	f := newAdminFixture(t, rfcSecret, true)
	f.clock.now = time.Unix(1111111111, 0)

	rec := f.do(adminRequest("correct-admin-token"))
	assertRejected(t, rec, http.StatusForbidden, "REQUIRE_2FA")

	bad := adminRequest("correct-admin-token")
	bad.Header.Set("X-Admin-OTP", "123456")
	assertRejected(t, f.do(bad), http.StatusForbidden, "INVALID_2FA_CODE")

	good := adminRequest("correct-admin-token")
	good.Header.Set("X-Admin-OTP", "050471")
	if rec := f.do(good); rec.Code != http.StatusOK {
		t.Fatalf("status = %d with valid otp, body %s", rec.Code, rec.Body.String())
	}

	// the ip is now trusted, no code needed
	if rec := f.do(adminRequest("correct-admin-token")); rec.Code != http.StatusOK {
		t.Fatalf("status = %d for trusted ip", rec.Code)
	}

	// trust expires with the window
	f.clock.Advance(trustDuration + time.Minute)
	assertRejected(t, f.do(adminRequest("correct-admin-token")), http.StatusForbidden, "REQUIRE_2FA")
}

func TestVerifyTokenEndpoint(t *testing.T) {
	f := newAdminFixture(t, "", false)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/admin-token/verify", nil)
	r.Header.Set("X-Admin-Token", "correct-admin-token")
	rec := httptest.NewRecorder()
	f.auth.VerifyToken(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Fatal("success = false for valid token")
	}

	r = httptest.NewRequest(http.MethodPost, "/api/v1/auth/admin-token/verify", nil)
	r.Header.Set("X-Admin-Token", "wrong")
	rec = httptest.NewRecorder()
	f.auth.VerifyToken(rec, r)
	assertRejected(t, rec, http.StatusUnauthorized, "ADMIN_TOKEN_INVALID")

	r = httptest.NewRequest(http.MethodGet, "/api/v1/auth/admin-token/verify", nil)
	rec = httptest.NewRecorder()
	f.auth.VerifyToken(rec, r)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d for GET, want 405", rec.Code)
	}
}

func TestTwoFactorSetupEndpoint(t *testing.T) {
	f := newAdminFixture(t, rfcSecret, true)

	r := httptest.NewRequest(http.MethodGet, "/api/admin/security/2fa/setup", nil)
	rec := httptest.NewRecorder()
	f.auth.TwoFactorSetup(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", resp.Data)
	}
	if data["secret"] != rfcSecret {
		t.Fatalf("secret = %v, want configured secret", data["secret"])
	}
	if data["enabled"] != true {
		t.Fatalf("enabled = %v", data["enabled"])
	}
}

package security

import (
	"net/http"
	"strings"

	"analytics-hub/internal/alert"
	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/metrics"
	"analytics-hub/internal/observability"
)

// queryTokenParams are rejected outright: tokens in the query string end up
// in access logs and proxy caches.
var queryTokenParams = []string{"token", "admin_token", "access_token"}

// AdminAuth protects the admin plane with a shared token, per-IP brute-force
// banning, and an optional TOTP second factor.
type AdminAuth struct {
	token    string
	limiter  *Limiter
	gate     *Gate
	notifier alert.Notifier
	logger   *observability.Logger
	metrics  metrics.AuthMetrics
}

func NewAdminAuth(token string, limiter *Limiter, gate *Gate, notifier alert.Notifier, logger *observability.Logger, m metrics.AuthMetrics) *AdminAuth {
	if m == nil {
		m = metrics.Noop{}
	}
	return &AdminAuth{
		token:    token,
		limiter:  limiter,
		gate:     gate,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
	}
}

func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if param, found := queryToken(r); found {
			a.logger.Info("admin_token_in_query", map[string]any{"ip": ip, "param": param})
			a.fail(w, ip, apperr.AdminTokenInvalid("token must not be passed in the query string"))
			return
		}

		if a.limiter.IsBanned(ip) {
			a.metrics.IncAuthFailure("admin", "TOO_MANY_ATTEMPTS")
			httpapi.WriteError(w, apperr.TooManyAttempts(a.limiter.RemainingBanSeconds(ip)))
			return
		}

		provided := headerToken(r)
		if provided == "" {
			// A missing header is a client misconfiguration, not a guess
			// attempt; it does not count toward the ban.
			a.metrics.IncAuthFailure("admin", "ADMIN_TOKEN_MISSING")
			httpapi.WriteError(w, apperr.AdminTokenMissing())
			return
		}
		if a.token == "" {
			a.metrics.IncAuthFailure("admin", "ADMIN_TOKEN_NOT_CONFIGURED")
			httpapi.WriteError(w, apperr.AdminTokenNotConfigured())
			return
		}
		if !cryptoutil.ConstantTimeEquals(provided, a.token) {
			a.logger.Info("admin_token_mismatch", map[string]any{"ip": ip})
			a.fail(w, ip, apperr.AdminTokenInvalid("invalid admin token"))
			return
		}
		a.limiter.ResetFailures(ip)

		if a.gate.Enabled() && !a.gate.IsTrusted(ip) {
			code := r.Header.Get("X-Admin-OTP")
			if code == "" {
				a.metrics.IncTwoFactorChallenge("rejected")
				a.metrics.IncAuthFailure("admin", "REQUIRE_2FA")
				httpapi.WriteError(w, apperr.Require2FA())
				return
			}
			if !a.gate.VerifyCode(code) {
				a.metrics.IncTwoFactorChallenge("rejected")
				a.metrics.IncAuthFailure("admin", "INVALID_2FA_CODE")
				httpapi.WriteError(w, apperr.Invalid2FACode())
				return
			}
			a.metrics.IncTwoFactorChallenge("accepted")
			a.gate.TrustDevice(ip)
		}

		a.metrics.IncAuthSuccess("admin")
		next.ServeHTTP(w, r)
	})
}

// fail records a failed attempt against the caller's IP and writes the error.
// The brute-force alert fires exactly once per ban, when the count first
// reaches the threshold.
func (a *AdminAuth) fail(w http.ResponseWriter, ip string, err *apperr.Error) {
	count := a.limiter.RecordFailure(ip)
	a.metrics.IncAuthFailure("admin", err.Code)
	if count == banThreshold {
		a.metrics.IncIPBanned()
		a.logger.Info("admin_ip_banned", map[string]any{"ip": ip, "failures": count})
		if a.notifier != nil {
			go a.notifier.BruteForceDetected(ip, count)
		}
	}
	httpapi.WriteError(w, err)
}

// VerifyToken handles POST /api/v1/auth/admin-token/verify. Same header rules
// as the middleware, no rate limiting: clients use it to validate a stored
// token before entering the admin UI.
func (a *AdminAuth) VerifyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpapi.WriteErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	provided := headerToken(r)
	if provided == "" {
		httpapi.WriteError(w, apperr.AdminTokenMissing())
		return
	}
	if a.token == "" {
		httpapi.WriteError(w, apperr.AdminTokenNotConfigured())
		return
	}
	if !cryptoutil.ConstantTimeEquals(provided, a.token) {
		httpapi.WriteError(w, apperr.AdminTokenInvalid("invalid admin token"))
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"valid": true})
}

// TwoFactorSetup handles GET /api/admin/security/2fa/setup. The route sits
// behind the admin middleware, so only a token holder can read the secret.
func (a *AdminAuth) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpapi.WriteErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	secret, uri, err := a.gate.SetupSecret()
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{
		"secret":      secret,
		"otpauth_url": uri,
		"enabled":     a.gate.Enabled(),
	})
}

func headerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}

func queryToken(r *http.Request) (string, bool) {
	values := r.URL.Query()
	for _, param := range queryTokenParams {
		if values.Has(param) {
			return param, true
		}
	}
	return "", false
}

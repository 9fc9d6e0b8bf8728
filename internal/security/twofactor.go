package security

import (
	"strings"
	"sync"
	"time"

	"analytics-hub/internal/observability"
)

const trustDuration = 24 * time.Hour

// Gate is the two-factor step-up check for the admin plane. When no secret is
// configured (or the feature flag is off) it fails open: every code verifies
// and every IP counts as trusted.
type Gate struct {
	secret  string
	enabled bool
	issuer  string
	account string
	logger  *observability.Logger
	now     func() time.Time

	mu      sync.Mutex
	trusted map[string]time.Time
}

func NewGate(secret string, enabled bool, logger *observability.Logger) *Gate {
	return newGate(secret, enabled, logger, time.Now)
}

func newGate(secret string, enabled bool, logger *observability.Logger, now func() time.Time) *Gate {
	return &Gate{
		secret:  strings.TrimSpace(secret),
		enabled: enabled,
		issuer:  "AnalyticsHub",
		account: "AnalyticsHub-Admin",
		logger:  logger,
		now:     now,
		trusted: make(map[string]time.Time),
	}
}

// Enabled reports whether the gate is active: flag on and a secret configured.
func (g *Gate) Enabled() bool {
	return g.enabled && g.secret != ""
}

// VerifyCode validates a 6-digit one-time code. Always true when disabled.
func (g *Gate) VerifyCode(code string) bool {
	if !g.Enabled() {
		return true
	}

	ok, err := verifyTOTP(g.secret, code, g.now())
	if err != nil {
		if g.logger != nil {
			g.logger.Error("totp_verify_failed", map[string]any{"error": err.Error()})
		}
		return false
	}
	return ok
}

// IsTrusted reports whether ip passed a code check within the trust window.
// Always true when disabled. Expired entries are removed on access.
func (g *Gate) IsTrusted(ip string) bool {
	if !g.Enabled() {
		return true
	}

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.trusted[ip]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(g.trusted, ip)
		return false
	}
	return true
}

// TrustDevice grants ip a 24 hour exemption from further code challenges.
func (g *Gate) TrustDevice(ip string) {
	expiry := g.now().Add(trustDuration)

	g.mu.Lock()
	g.trusted[ip] = expiry
	// expire stale entries on write
	now := g.now()
	for addr, exp := range g.trusted {
		if now.After(exp) {
			delete(g.trusted, addr)
		}
	}
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Info("admin_ip_trusted", map[string]any{
			"ip":     ip,
			"expiry": expiry.UTC().Format(time.RFC3339),
		})
	}
}

// SetupSecret returns the configured secret, or generates a throwaway one so
// an operator can bind an authenticator before configuring the environment.
// The returned URI is the standard otpauth provisioning link.
func (g *Gate) SetupSecret() (secret, uri string, err error) {
	secret = g.secret
	if secret == "" {
		secret, err = generateTOTPSecret()
		if err != nil {
			return "", "", err
		}
	}
	return secret, provisionURI(secret, g.issuer, g.account), nil
}

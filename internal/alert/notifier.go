// Package alert delivers best-effort security notifications. Delivery must
// never block or fail the request that triggered it.
package alert

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"analytics-hub/internal/observability"
)

// Notifier is the sink for brute-force detections.
type Notifier interface {
	BruteForceDetected(ip string, failures int)
}

// SentryNotifier reports to Sentry and mirrors the alert to the log. With no
// Sentry DSN configured the capture is a no-op and only the log line remains.
type SentryNotifier struct {
	logger *observability.Logger
}

func NewSentryNotifier(logger *observability.Logger) *SentryNotifier {
	return &SentryNotifier{logger: logger}
}

func (n *SentryNotifier) BruteForceDetected(ip string, failures int) {
	n.logger.Error("brute_force_detected", map[string]any{
		"ip":       ip,
		"failures": failures,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("alert", "brute_force")
		scope.SetExtra("ip", ip)
		scope.SetExtra("failures", failures)
		sentry.CaptureMessage(fmt.Sprintf("admin token brute force from %s, IP banned", ip))
	})
}

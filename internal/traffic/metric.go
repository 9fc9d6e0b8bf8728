// Package traffic records web traffic metrics. Unlike events it has a public
// plane: unauthenticated websites report page views with only a project id
// and a device UUID, no signing key.
package traffic

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"analytics-hub/internal/cryptoutil"
)

type Metric struct {
	ID         int64           `json:"id"`
	MetricID   string          `json:"metricId"`
	DeviceID   uuid.UUID       `json:"deviceId"`
	UserID     string          `json:"userId"`
	SessionID  *uuid.UUID      `json:"sessionId,omitempty"`
	MetricType string          `json:"metricType"`
	PagePath   string          `json:"pagePath,omitempty"`
	Referrer   string          `json:"referrer,omitempty"`
	Timestamp  int64           `json:"metricTimestamp"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	ProjectID  string          `json:"projectId"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NormalizeMetricType folds a client-supplied metric type to snake_case:
// spaces and dashes become underscores, camelCase boundaries split, runs of
// separators collapse. "pageview" and "page_view" unify.
func NormalizeMetricType(raw string) string {
	input := strings.TrimSpace(raw)
	if input == "" {
		return ""
	}

	var out strings.Builder
	out.Grow(len(input) + 8)
	var prev rune

	for _, r := range input {
		switch {
		case r == '-' || r == ' ' || r == '_':
			if prev != 0 && prev != '_' {
				out.WriteRune('_')
				prev = '_'
			}
		case unicode.IsUpper(r):
			if prev != 0 && prev != '_' && unicode.IsLower(prev) {
				out.WriteRune('_')
			}
			lowered := unicode.ToLower(r)
			out.WriteRune(lowered)
			prev = lowered
		default:
			out.WriteRune(r)
			prev = r
		}
	}

	normalized := strings.Trim(out.String(), "_")
	if normalized == "pageview" {
		return "page_view"
	}
	return normalized
}

// DeriveUserID produces a stable pseudonymous user id for public tracking:
// the first 32 hex characters of SHA-256 over the lowercased device UUID.
func DeriveUserID(deviceID uuid.UUID) string {
	return cryptoutil.SHA256Hex(strings.ToLower(deviceID.String()))[:32]
}

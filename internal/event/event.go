// Package event is the data-plane event ingestion surface.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one tracked occurrence inside a project.
type Event struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"eventId"`
	DeviceID       uuid.UUID       `json:"deviceId"`
	UserID         string          `json:"userId"`
	SessionID      *uuid.UUID      `json:"sessionId,omitempty"`
	EventType      string          `json:"eventType"`
	EventTimestamp int64           `json:"eventTimestamp"`
	Properties     json.RawMessage `json:"properties,omitempty"`
	ProjectID      string          `json:"projectId"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Package session records client sessions on the data plane. Uploads are
// upserts keyed by session UUID so clients can re-send a session as it
// accumulates duration and counts.
package session

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID          int64     `json:"id"`
	SessionID   uuid.UUID `json:"sessionId"`
	DeviceID    uuid.UUID `json:"deviceId"`
	UserID      string    `json:"userId"`
	StartTime   time.Time `json:"sessionStartTime"`
	DurationMS  int64     `json:"sessionDurationMs"`
	DeviceModel string    `json:"deviceModel,omitempty"`
	OSVersion   string    `json:"osVersion,omitempty"`
	AppVersion  string    `json:"appVersion,omitempty"`
	BuildNumber string    `json:"buildNumber,omitempty"`
	ScreenCount int       `json:"screenCount"`
	EventCount  int       `json:"eventCount"`
	ProjectID   string    `json:"projectId"`
	CreatedAt   time.Time `json:"createdAt"`
}

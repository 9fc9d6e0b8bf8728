package device

import (
	"time"

	"github.com/google/uuid"
)

// Device is one registered client installation inside a project. The secret
// key is used only for request signing and never leaves the server.
type Device struct {
	ID           int64
	DeviceID     uuid.UUID
	APIKey       string
	SecretKey    string
	DeviceModel  string
	OSVersion    string
	AppVersion   string
	ProjectID    string
	Banned       bool
	BanReason    string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

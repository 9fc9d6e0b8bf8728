// Package counter implements named project counters: admin-managed values
// with optional public exposure, incremented explicitly or written whole.
package counter

import (
	"encoding/json"
	"time"
)

// Counter is one named value inside a project. DisplayName, Unit and
// EventTrigger hold free-form JSON configured by the operator.
type Counter struct {
	Key          string          `json:"key"`
	Value        int64           `json:"value"`
	DisplayName  json.RawMessage `json:"displayName,omitempty"`
	Unit         json.RawMessage `json:"unit,omitempty"`
	EventTrigger json.RawMessage `json:"eventTrigger,omitempty"`
	Public       bool            `json:"isPublic"`
	Description  string          `json:"description,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Patch carries the fields of an upsert. Nil fields keep the stored value,
// matching the COALESCE in the store.
type Patch struct {
	Value        *int64          `json:"value,omitempty"`
	DisplayName  json.RawMessage `json:"displayName,omitempty"`
	Unit         json.RawMessage `json:"unit,omitempty"`
	EventTrigger json.RawMessage `json:"eventTrigger,omitempty"`
	Public       *bool           `json:"isPublic,omitempty"`
	Description  *string         `json:"description,omitempty"`
}

package event

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store writes events to a routed tenant pool. Stateless, like the device
// store: pool and table come from the request.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Insert stores one event.
func (s *Store) Insert(ctx context.Context, db *sql.DB, table string, ev *Event) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(event_id, device_id, user_id, session_id, event_type,
			 event_timestamp, properties, project_id, created_at)
		VALUES ($1, $2::uuid, $3, $4::uuid, $5, $6, $7::jsonb, $8, $9)
	`, table),
		ev.EventID, ev.DeviceID.String(), ev.UserID, sessionArg(ev),
		ev.EventType, ev.EventTimestamp, propertiesArg(ev), ev.ProjectID,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertBatch stores the given events in one multi-row statement.
func (s *Store) InsertBatch(ctx context.Context, db *sql.DB, table string, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	var values strings.Builder
	args := make([]any, 0, len(events)*9)
	now := time.Now().UTC()

	for i, ev := range events {
		if i > 0 {
			values.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&values, "($%d, $%d::uuid, $%d, $%d::uuid, $%d, $%d, $%d::jsonb, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			ev.EventID, ev.DeviceID.String(), ev.UserID, sessionArg(ev),
			ev.EventType, ev.EventTimestamp, propertiesArg(ev), ev.ProjectID, now)
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(event_id, device_id, user_id, session_id, event_type,
			 event_timestamp, properties, project_id, created_at)
		VALUES %s
	`, table, values.String()), args...)
	if err != nil {
		return fmt.Errorf("insert event batch: %w", err)
	}
	return nil
}

func sessionArg(ev *Event) any {
	if ev.SessionID == nil {
		return nil
	}
	return ev.SessionID.String()
}

func propertiesArg(ev *Event) any {
	if len(ev.Properties) == 0 {
		return nil
	}
	return string(ev.Properties)
}

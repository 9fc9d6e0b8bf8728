package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Upsert inserts the session or, when the session UUID already exists,
// refreshes the fields that grow over a session's lifetime.
func (s *Store) Upsert(ctx context.Context, db *sql.DB, table string, sess *Session) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(session_id, device_id, user_id, session_start_time, session_duration_ms,
			 device_model, os_version, app_version, build_number, screen_count,
			 event_count, project_id, created_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
			session_duration_ms = EXCLUDED.session_duration_ms,
			screen_count = EXCLUDED.screen_count,
			event_count = EXCLUDED.event_count,
			device_model = EXCLUDED.device_model,
			os_version = EXCLUDED.os_version,
			app_version = EXCLUDED.app_version,
			build_number = EXCLUDED.build_number
	`, table),
		sess.SessionID.String(), sess.DeviceID.String(), sess.UserID,
		sess.StartTime.UTC(), sess.DurationMS, sess.DeviceModel, sess.OSVersion,
		sess.AppVersion, sess.BuildNumber, sess.ScreenCount, sess.EventCount,
		sess.ProjectID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

package traffic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Insert stores one traffic metric.
func (s *Store) Insert(ctx context.Context, db *sql.DB, table string, m *Metric) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(metric_id, device_id, user_id, session_id, metric_type, page_path,
			 referrer, metric_timestamp, metadata, project_id, created_at)
		VALUES ($1, $2::uuid, $3, $4::uuid, $5, $6, $7, $8, $9::jsonb, $10, $11)
	`, table), metricArgs(m, time.Now().UTC())...)
	if err != nil {
		return fmt.Errorf("insert traffic metric: %w", err)
	}
	return nil
}

// InsertBatch stores the given metrics in one multi-row statement.
func (s *Store) InsertBatch(ctx context.Context, db *sql.DB, table string, metrics []*Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	var values strings.Builder
	args := make([]any, 0, len(metrics)*11)
	now := time.Now().UTC()

	for i, m := range metrics {
		if i > 0 {
			values.WriteString(", ")
		}
		base := i * 11
		fmt.Fprintf(&values, "($%d, $%d::uuid, $%d, $%d::uuid, $%d, $%d, $%d, $%d, $%d::jsonb, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11)
		args = append(args, metricArgs(m, now)...)
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(metric_id, device_id, user_id, session_id, metric_type, page_path,
			 referrer, metric_timestamp, metadata, project_id, created_at)
		VALUES %s
	`, table, values.String()), args...)
	if err != nil {
		return fmt.Errorf("insert traffic metric batch: %w", err)
	}
	return nil
}

func metricArgs(m *Metric, now time.Time) []any {
	var sessionID any
	if m.SessionID != nil {
		sessionID = m.SessionID.String()
	}
	var metadata any
	if len(m.Metadata) > 0 {
		metadata = string(m.Metadata)
	}
	var pagePath any
	if m.PagePath != "" {
		pagePath = m.PagePath
	}
	var referrer any
	if m.Referrer != "" {
		referrer = m.Referrer
	}
	return []any{
		m.MetricID, m.DeviceID.String(), m.UserID, sessionID, m.MetricType,
		pagePath, referrer, m.Timestamp, metadata, m.ProjectID, now,
	}
}

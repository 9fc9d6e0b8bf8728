package counter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const counterColumns = `counter_key, counter_value, display_name, unit, event_trigger,
		is_public, description, updated_at`

// List returns a project's counters, restricted to public rows when
// onlyPublic is set.
func (s *Store) List(ctx context.Context, db *sql.DB, table, projectID string, onlyPublic bool) ([]*Counter, error) {
	query := fmt.Sprintf(`
		SELECT `+counterColumns+`
		FROM %s
		WHERE project_id = $1 %s
		ORDER BY counter_key ASC
	`, table, publicFilter(onlyPublic))

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	counters := make([]*Counter, 0)
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}
	return counters, nil
}

// Get returns one counter or (nil, nil).
func (s *Store) Get(ctx context.Context, db *sql.DB, table, projectID, key string, onlyPublic bool) (*Counter, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT `+counterColumns+`
		FROM %s
		WHERE project_id = $1 AND counter_key = $2 %s
	`, table, publicFilter(onlyPublic)), projectID, key)

	c, err := scanCounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get counter: %w", err)
	}
	return c, nil
}

// Upsert writes the patch, keeping stored values for fields the patch leaves
// nil.
func (s *Store) Upsert(ctx context.Context, db *sql.DB, table, projectID, key string, patch *Patch) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(counter_key, counter_value, display_name, unit, event_trigger,
			 is_public, description, project_id, created_at, updated_at)
		VALUES ($1, COALESCE($2, 0), $3::jsonb, $4::jsonb, $5::jsonb, COALESCE($6, FALSE), $7, $8, $9, $9)
		ON CONFLICT (project_id, counter_key) DO UPDATE SET
			counter_value = COALESCE($2, %[1]s.counter_value),
			display_name = COALESCE($3::jsonb, %[1]s.display_name),
			unit = COALESCE($4::jsonb, %[1]s.unit),
			event_trigger = COALESCE($5::jsonb, %[1]s.event_trigger),
			is_public = COALESCE($6, %[1]s.is_public),
			description = COALESCE($7, %[1]s.description),
			updated_at = $9
	`, table),
		key, patch.Value, jsonArg(patch.DisplayName), jsonArg(patch.Unit),
		jsonArg(patch.EventTrigger), patch.Public, patch.Description,
		projectID, now)
	if err != nil {
		return fmt.Errorf("upsert counter: %w", err)
	}
	return nil
}

// Increment adds delta to the counter, creating it at delta when absent.
func (s *Store) Increment(ctx context.Context, db *sql.DB, table, projectID, key string, delta int64) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (counter_key, counter_value, project_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (project_id, counter_key) DO UPDATE SET
			counter_value = %[1]s.counter_value + $2,
			updated_at = $4
	`, table), key, delta, projectID, now)
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

// Delete removes a counter; deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, db *sql.DB, table, projectID, key string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE project_id = $1 AND counter_key = $2`, table,
	), projectID, key)
	if err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}
	return nil
}

func publicFilter(onlyPublic bool) string {
	if onlyPublic {
		return "AND is_public = TRUE"
	}
	return ""
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCounter(row rowScanner) (*Counter, error) {
	var (
		c            Counter
		displayName  sql.NullString
		unit         sql.NullString
		eventTrigger sql.NullString
		description  sql.NullString
	)
	err := row.Scan(
		&c.Key, &c.Value, &displayName, &unit, &eventTrigger,
		&c.Public, &description, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if displayName.Valid {
		c.DisplayName = json.RawMessage(displayName.String)
	}
	if unit.Valid {
		c.Unit = json.RawMessage(unit.String)
	}
	if eventTrigger.Valid {
		c.EventTrigger = json.RawMessage(eventTrigger.String)
	}
	c.Description = description.String
	return &c, nil
}

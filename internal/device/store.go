package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store runs device queries against a routed tenant pool. It is stateless:
// the pool and prefixed table name differ per project and are passed in by
// the caller.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const deviceColumns = `id, device_id, api_key, secret_key, device_model, os_version,
		app_version, project_id, is_banned, ban_reason, created_at, last_active_at`

// FindForAuth looks a device up by the authentication triple. Returns
// (nil, nil) on a miss.
func (s *Store) FindForAuth(ctx context.Context, db *sql.DB, table, apiKey, deviceID, projectID string) (*Device, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT `+deviceColumns+`
		FROM %s
		WHERE api_key = $1 AND device_id = $2::uuid AND project_id = $3
	`, table), apiKey, deviceID, projectID)

	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	return dev, nil
}

// FindByDeviceID returns the registered device for a device UUID, or nil.
func (s *Store) FindByDeviceID(ctx context.Context, db *sql.DB, table, deviceID, projectID string) (*Device, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT `+deviceColumns+`
		FROM %s
		WHERE device_id = $1::uuid AND project_id = $2
	`, table), deviceID, projectID)

	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find device by id: %w", err)
	}
	return dev, nil
}

// Insert registers a new device row.
func (s *Store) Insert(ctx context.Context, db *sql.DB, table string, dev *Device) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(device_id, api_key, secret_key, device_model, os_version,
			 app_version, project_id, is_banned, created_at, last_active_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, FALSE, $8, $8)
	`, table),
		dev.DeviceID.String(), dev.APIKey, dev.SecretKey, dev.DeviceModel,
		dev.OSVersion, dev.AppVersion, dev.ProjectID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// TouchLastActive bumps last_active_at, best effort.
func (s *Store) TouchLastActive(ctx context.Context, db *sql.DB, table string, deviceID uuid.UUID) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET last_active_at = $1 WHERE device_id = $2::uuid`, table,
	), time.Now().UTC(), deviceID.String())
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		dev       Device
		rawID     string
		banReason sql.NullString
	)
	err := row.Scan(
		&dev.ID, &rawID, &dev.APIKey, &dev.SecretKey, &dev.DeviceModel,
		&dev.OSVersion, &dev.AppVersion, &dev.ProjectID, &dev.Banned,
		&banReason, &dev.CreatedAt, &dev.LastActiveAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse device uuid: %w", err)
	}
	dev.DeviceID = parsed
	dev.BanReason = banReason.String
	return &dev, nil
}

package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is the registry read contract the router depends on. A missing
// project returns (nil, nil).
type Store interface {
	GetConfig(ctx context.Context, projectID string) (*Config, error)
}

// RegistryStore persists project configuration in the system registry
// database.
type RegistryStore struct {
	db *sql.DB
}

func NewRegistryStore(db *sql.DB) *RegistryStore {
	return &RegistryStore{db: db}
}

const configColumns = `id, project_id, project_name, db_host, db_port, db_name, db_user,
		db_password_encrypted, table_prefix, is_active, created_at, updated_at`

func (s *RegistryStore) GetConfig(ctx context.Context, projectID string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM analytics_projects
		WHERE project_id = $1
	`, projectID)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project config: %w", err)
	}
	return cfg, nil
}

func (s *RegistryStore) List(ctx context.Context) ([]*Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configColumns+`
		FROM analytics_projects
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	configs := make([]*Config, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return configs, nil
}

func (s *RegistryStore) GetByID(ctx context.Context, id int64) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM analytics_projects
		WHERE id = $1
	`, id)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by id: %w", err)
	}
	return cfg, nil
}

func (s *RegistryStore) Create(ctx context.Context, cfg *Config) (*Config, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO analytics_projects
			(project_id, project_name, db_host, db_port, db_name, db_user,
			 db_password_encrypted, table_prefix, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+configColumns+`
	`, cfg.ProjectID, cfg.ProjectName, cfg.DBHost, cfg.DBPort, cfg.DBName,
		cfg.DBUser, cfg.DBPasswordEncrypted, cfg.TablePrefix, cfg.Active, now)

	created, err := scanConfig(row)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (s *RegistryStore) Update(ctx context.Context, cfg *Config) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE analytics_projects
		SET project_name = $2, db_host = $3, db_port = $4, db_name = $5,
			db_user = $6, db_password_encrypted = $7, table_prefix = $8,
			is_active = $9, updated_at = $10
		WHERE id = $1
		RETURNING `+configColumns+`
	`, cfg.ID, cfg.ProjectName, cfg.DBHost, cfg.DBPort, cfg.DBName,
		cfg.DBUser, cfg.DBPasswordEncrypted, cfg.TablePrefix, cfg.Active,
		time.Now().UTC())

	updated, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return updated, nil
}

func (s *RegistryStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analytics_projects WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*Config, error) {
	var cfg Config
	err := row.Scan(
		&cfg.ID, &cfg.ProjectID, &cfg.ProjectName, &cfg.DBHost, &cfg.DBPort,
		&cfg.DBName, &cfg.DBUser, &cfg.DBPasswordEncrypted, &cfg.TablePrefix,
		&cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

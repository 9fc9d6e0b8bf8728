package device

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"analytics-hub/internal/apperr"
	"analytics-hub/internal/cryptoutil"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/tenant"
)

type resolver interface {
	Resolve(ctx context.Context, projectID string) (*tenant.Config, *sql.DB, error)
}

type registrationStore interface {
	FindByDeviceID(ctx context.Context, db *sql.DB, table, deviceID, projectID string) (*Device, error)
	Insert(ctx context.Context, db *sql.DB, table string, dev *Device) error
}

type RegisterRequest struct {
	DeviceID    string `json:"deviceId"`
	DeviceModel string `json:"deviceModel"`
	OSVersion   string `json:"osVersion"`
	AppVersion  string `json:"appVersion"`
}

type RegisterResponse struct {
	APIKey    string `json:"apiKey"`
	SecretKey string `json:"secretKey,omitempty"`
	Created   bool   `json:"created"`
}

type Service struct {
	router resolver
	store  registrationStore
	logger *observability.Logger
}

func NewService(router resolver, store registrationStore, logger *observability.Logger) *Service {
	return &Service{router: router, store: store, logger: logger}
}

// Register is idempotent: an already registered device gets its existing api
// key back and its secret is never rotated.
func (s *Service) Register(ctx context.Context, projectID string, req RegisterRequest) (*RegisterResponse, error) {
	cfg, db, err := s.router.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}

	deviceUUID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		return nil, apperr.InvalidDeviceID()
	}

	table := cfg.TableName("devices")
	existing, err := s.store.FindByDeviceID(ctx, db, table, deviceUUID.String(), cfg.ProjectID)
	if err != nil {
		return nil, apperr.ProjectDBUnavailable(cfg.ProjectID)
	}
	if existing != nil {
		s.logger.Info("device_already_registered", map[string]any{
			"project_id": cfg.ProjectID,
			"device_id":  deviceUUID.String(),
		})
		return &RegisterResponse{APIKey: existing.APIKey, Created: false}, nil
	}

	apiKey, err := cryptoutil.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	secretKey, err := cryptoutil.GenerateSecretKey()
	if err != nil {
		return nil, err
	}

	dev := &Device{
		DeviceID:    deviceUUID,
		APIKey:      apiKey,
		SecretKey:   secretKey,
		DeviceModel: req.DeviceModel,
		OSVersion:   req.OSVersion,
		AppVersion:  req.AppVersion,
		ProjectID:   cfg.ProjectID,
	}
	if err := s.store.Insert(ctx, db, table, dev); err != nil {
		return nil, apperr.ProjectDBUnavailable(cfg.ProjectID)
	}

	s.logger.Info("device_registered", map[string]any{
		"project_id": cfg.ProjectID,
		"device_id":  deviceUUID.String(),
	})
	return &RegisterResponse{APIKey: apiKey, SecretKey: secretKey, Created: true}, nil
}

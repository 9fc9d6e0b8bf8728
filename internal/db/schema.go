package db

import "fmt"

// TenantTables are the logical table names provisioned in every tenant
// database, in creation order.
var TenantTables = []string{"devices", "events", "sessions", "counters", "traffic_metrics"}

// TenantSchema returns the DDL statements that provision a tenant database
// with the given table prefix. Statements are idempotent so init-schema can
// be rerun against a partially provisioned database.
func TenantSchema(prefix string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sdevices (
			id BIGSERIAL PRIMARY KEY,
			device_id UUID NOT NULL,
			api_key VARCHAR(64) NOT NULL,
			secret_key VARCHAR(64) NOT NULL,
			device_model VARCHAR(255),
			os_version VARCHAR(100),
			app_version VARCHAR(100),
			project_id VARCHAR(50) NOT NULL,
			is_banned BOOLEAN NOT NULL DEFAULT FALSE,
			ban_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (device_id, project_id)
		)`, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%sdevices_api_key ON %sdevices (api_key)`, prefix, prefix),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sevents (
			id BIGSERIAL PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL UNIQUE,
			device_id UUID NOT NULL,
			user_id VARCHAR(32) NOT NULL,
			session_id UUID,
			event_type VARCHAR(100) NOT NULL,
			event_timestamp BIGINT NOT NULL,
			properties JSONB,
			project_id VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%sevents_type_ts ON %sevents (event_type, event_timestamp)`, prefix, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%sevents_created ON %sevents (created_at)`, prefix, prefix),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %ssessions (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL UNIQUE,
			device_id UUID NOT NULL,
			user_id VARCHAR(32) NOT NULL,
			session_start_time TIMESTAMPTZ NOT NULL,
			session_duration_ms BIGINT NOT NULL DEFAULT 0,
			device_model VARCHAR(255),
			os_version VARCHAR(100),
			app_version VARCHAR(100),
			build_number VARCHAR(100),
			screen_count INTEGER NOT NULL DEFAULT 0,
			event_count INTEGER NOT NULL DEFAULT 0,
			project_id VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%ssessions_created ON %ssessions (created_at)`, prefix, prefix),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %scounters (
			id BIGSERIAL PRIMARY KEY,
			counter_key VARCHAR(100) NOT NULL,
			counter_value BIGINT NOT NULL DEFAULT 0,
			display_name JSONB,
			unit JSONB,
			event_trigger JSONB,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT,
			project_id VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (project_id, counter_key)
		)`, prefix),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %straffic_metrics (
			id BIGSERIAL PRIMARY KEY,
			metric_id VARCHAR(64) NOT NULL UNIQUE,
			device_id UUID,
			user_id VARCHAR(64),
			session_id UUID,
			metric_type VARCHAR(100) NOT NULL,
			page_path VARCHAR(500),
			referrer VARCHAR(500),
			metric_timestamp BIGINT NOT NULL,
			metadata JSONB,
			project_id VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%straffic_metrics_type_ts ON %straffic_metrics (metric_type, metric_timestamp)`, prefix, prefix),
	}
}

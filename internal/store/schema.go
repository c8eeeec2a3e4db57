package store

import (
	"context"
	"fmt"
)

const schemaVersion = 1

var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    role TEXT NOT NULL DEFAULT 'operator'
);`,
	`CREATE TABLE IF NOT EXISTS api_keys (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    key_hash TEXT NOT NULL UNIQUE,
    permissions TEXT[] NOT NULL DEFAULT '{}',
    active BOOLEAN NOT NULL DEFAULT true,
    last_used_at TIMESTAMPTZ
);`,
	`CREATE TABLE IF NOT EXISTS projects (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(owner_id, name)
);`,
	`CREATE TABLE IF NOT EXISTS content_sources (
    id BIGSERIAL PRIMARY KEY,
    project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    type TEXT NOT NULL,
    total_items INTEGER NOT NULL DEFAULT 0,
    used_items INTEGER NOT NULL DEFAULT 0,
    last_scanned TIMESTAMPTZ,
    UNIQUE(project_id, path)
);`,
	`CREATE TABLE IF NOT EXISTS publishing_tasks (
    id BIGSERIAL PRIMARY KEY,
    project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    source_id BIGINT NOT NULL REFERENCES content_sources(id) ON DELETE CASCADE,
    media_path TEXT NOT NULL,
    content_data BYTEA NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    scheduled_at TIMESTAMPTZ NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    worker_id TEXT NOT NULL DEFAULT '',
    lease_expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(project_id, media_path)
);`,
	`CREATE INDEX IF NOT EXISTS idx_publishing_tasks_claim
    ON publishing_tasks (status, scheduled_at, priority DESC, id ASC);`,
	`CREATE INDEX IF NOT EXISTS idx_publishing_tasks_project
    ON publishing_tasks (project_id, status);`,
	`CREATE TABLE IF NOT EXISTS publishing_logs (
    id BIGSERIAL PRIMARY KEY,
    task_id BIGINT NOT NULL REFERENCES publishing_tasks(id) ON DELETE CASCADE,
    platform_post_id TEXT,
    caption TEXT,
    outcome TEXT NOT NULL,
    error_text TEXT NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    published_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    rolled_up_at TIMESTAMPTZ
);`,
	`CREATE INDEX IF NOT EXISTS idx_publishing_logs_task ON publishing_logs (task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_publishing_logs_rollup
    ON publishing_logs (rolled_up_at) WHERE rolled_up_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS analytics_hourly (
    hour_timestamp TIMESTAMPTZ NOT NULL,
    project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    successful_tasks BIGINT NOT NULL DEFAULT 0,
    failed_tasks BIGINT NOT NULL DEFAULT 0,
    total_duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (hour_timestamp, project_id)
);`,
}

// EnsureSchema creates every table and index used by the Task Store,
// idempotently, and records the current schema_version if the table is
// freshly created. Mirrors the teacher's own "CREATE TABLE IF NOT EXISTS"
// migration style (no external migration tool, no down-migrations).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddlStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	var count int
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM schema_version`)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("ensure schema: read version: %w", err)
	}
	if count == 0 {
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, schemaVersion); err != nil {
			return fmt.Errorf("ensure schema: seed version: %w", err)
		}
	}
	return nil
}

// SchemaVersion reports the currently recorded schema version, used by the
// `db migrate` CLI command to decide whether any action is needed.
func (s *PostgresStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	row := s.pool.QueryRow(ctx, `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`)
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Reset drops every table, for the `db reset` maintenance command and for
// integration test cleanup. Destructive; callers must confirm out-of-band.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
DROP TABLE IF EXISTS analytics_hourly, publishing_logs, publishing_tasks,
    content_sources, projects, api_keys, users, schema_version CASCADE;`)
	if err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	return nil
}

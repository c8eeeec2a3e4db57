package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"

	"publishengine/internal/apperrors"
	"publishengine/internal/logging"
)

const uniqueViolationCode = "23505"

// PostgresStore is the Postgres-backed implementation of the Task Store
// described by spec.md §4.1: durable, transactionally consistent, and
// narrow in its exposed operation set.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore constructs a store over an existing connection pool. The
// pool's max size is the caller's concern (config.DBConfig.PoolSize).
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.OrNop(logger)}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CreateTasks idempotently inserts a batch of tasks. Rows colliding on
// (project_id, media_path) are silently skipped and counted, per spec.md
// §4.1 and the idempotence law in §8 ("CreateTasks([x,x,x]) ... creates
// exactly one row").
func (s *PostgresStore) CreateTasks(ctx context.Context, batch []TaskBatch) (created int, skipped int, err error) {
	if len(batch) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, &apperrors.StorageError{Op: "CreateTasks:begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range batch {
		tag, execErr := tx.Exec(ctx, `
INSERT INTO publishing_tasks (project_id, source_id, media_path, content_data, status, scheduled_at, priority, version)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, 1)
ON CONFLICT (project_id, media_path) DO NOTHING
`, item.ProjectID, item.SourceID, item.MediaPath, item.ContentData, item.ScheduledAt, item.Priority)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				skipped++
				continue
			}
			return 0, 0, &apperrors.StorageError{Op: "CreateTasks:insert", Err: execErr}
		}
		if tag.RowsAffected() == 0 {
			skipped++
		} else {
			created++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, &apperrors.StorageError{Op: "CreateTasks:commit", Err: err}
	}
	s.logger.Info("created %d tasks, skipped %d duplicates", created, skipped)
	return created, skipped, nil
}

// CreateTask inserts a single task and returns its id directly, for the
// control surface's CreateTask operation (unlike CreateTasks, which is
// Scanner-oriented batch ingestion with no per-row id feedback).
func (s *PostgresStore) CreateTask(ctx context.Context, item TaskBatch) (int64, error) {
	var id int64
	row := s.pool.QueryRow(ctx, `
INSERT INTO publishing_tasks (project_id, source_id, media_path, content_data, status, scheduled_at, priority, version)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, 1)
RETURNING id
`, item.ProjectID, item.SourceID, item.MediaPath, item.ContentData, item.ScheduledAt, item.Priority)
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, &apperrors.ConflictError{Message: fmt.Sprintf("task already exists for project %d media_path %q", item.ProjectID, item.MediaPath)}
		}
		return 0, &apperrors.StorageError{Op: "CreateTask", Err: err}
	}
	return id, nil
}

// ClaimDueTasks atomically selects up to limit pending, due tasks ordered
// (priority DESC, scheduled_at ASC, id ASC) and transitions them to
// running with a fresh claim lease, per spec.md §4.1 and §5's linearizable
// claim step.
func (s *PostgresStore) ClaimDueTasks(ctx context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]PublishingTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ClaimDueTasks:begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id FROM publishing_tasks
WHERE status = 'pending' AND scheduled_at <= $1
ORDER BY priority DESC, scheduled_at ASC, id ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now, limit)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ClaimDueTasks:select", Err: err}
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &apperrors.StorageError{Op: "ClaimDueTasks:scan", Err: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StorageError{Op: "ClaimDueTasks:rows", Err: err}
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	leaseExpires := now.Add(leaseTTL)
	claimed := make([]PublishingTask, 0, len(ids))
	for _, id := range ids {
		var t PublishingTask
		row := tx.QueryRow(ctx, `
UPDATE publishing_tasks
SET status = 'running', version = version + 1, worker_id = $2, lease_expires_at = $3, updated_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING id, project_id, source_id, media_path, content_data, status, scheduled_at, priority, retry_count, version, worker_id, lease_expires_at, created_at, updated_at
`, id, workerID, leaseExpires, now)
		if scanErr := scanTask(row, &t); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				continue // lost the race to another claimant between SELECT and UPDATE
			}
			return nil, &apperrors.StorageError{Op: "ClaimDueTasks:update", Err: scanErr}
		}
		claimed = append(claimed, t)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &apperrors.StorageError{Op: "ClaimDueTasks:commit", Err: err}
	}
	if len(claimed) > 0 {
		s.logger.Debug("worker %s claimed %d tasks", workerID, len(claimed))
	}
	return claimed, nil
}

func scanTask(row pgx.Row, t *PublishingTask) error {
	return row.Scan(&t.ID, &t.ProjectID, &t.SourceID, &t.MediaPath, &t.ContentData,
		&t.Status, &t.ScheduledAt, &t.Priority, &t.RetryCount, &t.Version,
		&t.WorkerID, &t.LeaseExpires, &t.CreatedAt, &t.UpdatedAt)
}

// CompleteTask applies a worker's execution outcome, conditional on
// expectedVersion matching the stored version (optimistic lock). On
// mismatch it returns a ConflictError and the caller must re-fetch and
// decide whether to retry.
func (s *PostgresStore) CompleteTask(ctx context.Context, taskID int64, expectedVersion int64, outcome CompletionOutcome, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &apperrors.StorageError{Op: "CompleteTask:begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current PublishingTask
	row := tx.QueryRow(ctx, `
SELECT id, project_id, source_id, media_path, content_data, status, scheduled_at, priority, retry_count, version, worker_id, lease_expires_at, created_at, updated_at
FROM publishing_tasks WHERE id = $1 FOR UPDATE
`, taskID)
	if err := scanTask(row, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &apperrors.NotFoundError{Entity: "PublishingTask", ID: fmt.Sprintf("%d", taskID)}
		}
		return &apperrors.StorageError{Op: "CompleteTask:select", Err: err}
	}
	if current.Version != expectedVersion {
		return &apperrors.ConflictError{Message: fmt.Sprintf("task %d version mismatch: expected %d, have %d", taskID, expectedVersion, current.Version)}
	}

	var nextStatus TaskStatus
	var nextScheduledAt time.Time
	nextRetryCount := current.RetryCount

	switch outcome.Result {
	case OutcomeSuccess:
		nextStatus = StatusSuccess
		nextScheduledAt = current.ScheduledAt
	case OutcomeTransient, OutcomeQuota:
		nextRetryCount = current.RetryCount + 1
		if nextRetryCount > outcome.MaxRetries {
			nextStatus = StatusFailed
			nextScheduledAt = current.ScheduledAt
		} else {
			nextStatus = StatusPending
			delay := apperrors.WorkerBackoff(nextRetryCount, outcome.BackoffBase, outcome.BackoffMax)
			if outcome.Result == OutcomeQuota && outcome.AdviseCooldown > 0 {
				delay = outcome.AdviseCooldown
			}
			nextScheduledAt = now.Add(delay)
		}
	default: // OutcomePermanent and anything else terminal
		nextStatus = StatusFailed
		nextScheduledAt = current.ScheduledAt
	}

	_, err = tx.Exec(ctx, `
UPDATE publishing_tasks
SET status = $2, scheduled_at = $3, retry_count = $4, version = version + 1,
    worker_id = '', lease_expires_at = NULL, updated_at = $5
WHERE id = $1 AND version = $6
`, taskID, nextStatus, nextScheduledAt, nextRetryCount, now, expectedVersion)
	if err != nil {
		return &apperrors.StorageError{Op: "CompleteTask:update", Err: err}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO publishing_logs (task_id, platform_post_id, caption, outcome, error_text, duration_seconds, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, taskID, outcome.PlatformPostID, outcome.Caption, outcome.Result, outcome.ErrorText, outcome.DurationS, now)
	if err != nil {
		return &apperrors.StorageError{Op: "CompleteTask:log", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &apperrors.StorageError{Op: "CompleteTask:commit", Err: err}
	}
	s.logger.Debug("task %d completed with outcome %s -> %s", taskID, outcome.Result, nextStatus)
	return nil
}

// RescheduleTask moves a pending task's scheduled_at, conditional on
// expectedVersion. Used by the Scheduler and by manual operator tooling.
func (s *PostgresStore) RescheduleTask(ctx context.Context, taskID int64, expectedVersion int64, newScheduledAt time.Time, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE publishing_tasks
SET scheduled_at = $3, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $2 AND status = 'pending'
`, taskID, expectedVersion, newScheduledAt, now)
	if err != nil {
		return &apperrors.StorageError{Op: "RescheduleTask", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.ConflictError{Message: fmt.Sprintf("task %d not pending at expected version %d", taskID, expectedVersion)}
	}
	return nil
}

// ListPendingProjectIDs returns the distinct projects that currently have
// at least one pending task, the unit of work the Scheduler plans over.
func (s *PostgresStore) ListPendingProjectIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT project_id FROM publishing_tasks WHERE status = 'pending' ORDER BY project_id`)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ListPendingProjectIDs", Err: err}
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &apperrors.StorageError{Op: "ListPendingProjectIDs:scan", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPendingTasksForProject returns one project's pending tasks ordered
// priority DESC, created_at ASC, id ASC — the exact placement order spec.md
// §4.3 names, with ascending id as the deterministic tie-break.
func (s *PostgresStore) ListPendingTasksForProject(ctx context.Context, projectID int64) ([]PublishingTask, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, project_id, source_id, media_path, content_data, status, scheduled_at, priority, retry_count, version, worker_id, lease_expires_at, created_at, updated_at
FROM publishing_tasks
WHERE project_id = $1 AND status = 'pending'
ORDER BY priority DESC, created_at ASC, id ASC
`, projectID)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ListPendingTasksForProject", Err: err}
	}
	defer rows.Close()
	var tasks []PublishingTask
	for rows.Next() {
		var t PublishingTask
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.SourceID, &t.MediaPath, &t.ContentData,
			&t.Status, &t.ScheduledAt, &t.Priority, &t.RetryCount, &t.Version,
			&t.WorkerID, &t.LeaseExpires, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, &apperrors.StorageError{Op: "ListPendingTasksForProject:scan", Err: err}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// LastScheduledForProject returns the latest scheduled_at among a
// project's non-pending-provisional tasks (running/success/failed), the
// anchor the Scheduler's cursor advances from. Pending tasks are excluded
// since their scheduled_at is exactly what's being planned.
func (s *PostgresStore) LastScheduledForProject(ctx context.Context, projectID int64) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT MAX(scheduled_at) FROM publishing_tasks WHERE project_id = $1 AND status != 'pending'
`, projectID).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &apperrors.StorageError{Op: "LastScheduledForProject", Err: err}
	}
	return t, nil
}

// CancelTask transitions a task to failed with a cancellation reason,
// resolving the Open Question of whether cancellation is a distinct state:
// it is not — cancellation is recorded as a failed task whose log reason
// names the cancellation explicitly.
func (s *PostgresStore) CancelTask(ctx context.Context, taskID int64, expectedVersion int64, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE publishing_tasks
SET status = 'failed', version = version + 1, updated_at = $3
WHERE id = $1 AND version = $2 AND status IN ('pending', 'running')
`, taskID, expectedVersion, now)
	if err != nil {
		return &apperrors.StorageError{Op: "CancelTask", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.ConflictError{Message: fmt.Sprintf("task %d not cancellable at expected version %d", taskID, expectedVersion)}
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO publishing_logs (task_id, outcome, error_text, published_at)
VALUES ($1, 'permanent_failure', $2, $3)
`, taskID, "cancelled: "+reason, now)
	if err != nil {
		return &apperrors.StorageError{Op: "CancelTask:log", Err: err}
	}
	return nil
}

// ListTasks returns one page of tasks matching filter, newest first, plus
// the total row count the filter matches (for the caller's pagination
// metadata).
func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]PublishingTask, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE 1=1"
	args := []any{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		where += fmt.Sprintf(" AND project_id = $%d", len(args))
	}

	var total int
	countSQL := "SELECT count(*) FROM publishing_tasks " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, &apperrors.StorageError{Op: "ListTasks:count", Err: err}
	}

	args = append(args, limit, filter.Offset)
	listSQL := fmt.Sprintf(`
SELECT id, project_id, source_id, media_path, content_data, status, scheduled_at, priority, retry_count, version, worker_id, lease_expires_at, created_at, updated_at
FROM publishing_tasks %s
ORDER BY id DESC
LIMIT $%d OFFSET $%d
`, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, &apperrors.StorageError{Op: "ListTasks", Err: err}
	}
	defer rows.Close()
	var tasks []PublishingTask
	for rows.Next() {
		var t PublishingTask
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.SourceID, &t.MediaPath, &t.ContentData,
			&t.Status, &t.ScheduledAt, &t.Priority, &t.RetryCount, &t.Version,
			&t.WorkerID, &t.LeaseExpires, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, &apperrors.StorageError{Op: "ListTasks:scan", Err: err}
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// GetTask returns a single task by id.
func (s *PostgresStore) GetTask(ctx context.Context, id int64) (PublishingTask, error) {
	var t PublishingTask
	row := s.pool.QueryRow(ctx, `
SELECT id, project_id, source_id, media_path, content_data, status, scheduled_at, priority, retry_count, version, worker_id, lease_expires_at, created_at, updated_at
FROM publishing_tasks WHERE id = $1
`, id)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.SourceID, &t.MediaPath, &t.ContentData,
		&t.Status, &t.ScheduledAt, &t.Priority, &t.RetryCount, &t.Version,
		&t.WorkerID, &t.LeaseExpires, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PublishingTask{}, &apperrors.NotFoundError{Entity: "PublishingTask", ID: fmt.Sprintf("%d", id)}
		}
		return PublishingTask{}, &apperrors.StorageError{Op: "GetTask", Err: err}
	}
	return t, nil
}

// UpdateTask applies patch to a pending task under optimistic concurrency,
// returning the updated row.
func (s *PostgresStore) UpdateTask(ctx context.Context, id int64, expectedVersion int64, patch TaskPatch, now time.Time) (PublishingTask, error) {
	priority := patch.Priority
	scheduledAt := patch.ScheduledAt
	tag, err := s.pool.Exec(ctx, `
UPDATE publishing_tasks
SET priority = COALESCE($3, priority), scheduled_at = COALESCE($4, scheduled_at), version = version + 1, updated_at = $5
WHERE id = $1 AND version = $2 AND status = 'pending'
`, id, expectedVersion, priority, scheduledAt, now)
	if err != nil {
		return PublishingTask{}, &apperrors.StorageError{Op: "UpdateTask", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return PublishingTask{}, &apperrors.ConflictError{Message: fmt.Sprintf("task %d not pending at expected version %d", id, expectedVersion)}
	}
	return s.GetTask(ctx, id)
}

// DeleteTask permanently removes a task row, per the control surface's
// DeleteTask operation.
func (s *PostgresStore) DeleteTask(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM publishing_tasks WHERE id = $1`, id)
	if err != nil {
		return &apperrors.StorageError{Op: "DeleteTask", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{Entity: "PublishingTask", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// ListProjects returns every Project, ordered by id.
func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, owner_id, name, description, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ListProjects", Err: err}
	}
	defer rows.Close()
	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, &apperrors.StorageError{Op: "ListProjects:scan", Err: err}
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject returns a single Project by id.
func (s *PostgresStore) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	row := s.pool.QueryRow(ctx, `SELECT id, owner_id, name, description, created_at FROM projects WHERE id = $1`, id)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, &apperrors.NotFoundError{Entity: "Project", ID: fmt.Sprintf("%d", id)}
		}
		return Project{}, &apperrors.StorageError{Op: "GetProject", Err: err}
	}
	return p, nil
}

// UpdateProject renames or redescribes a Project.
func (s *PostgresStore) UpdateProject(ctx context.Context, id int64, name, description string) (Project, error) {
	_, err := s.pool.Exec(ctx, `UPDATE projects SET name = $2, description = $3 WHERE id = $1`, id, name, description)
	if err != nil {
		return Project{}, &apperrors.StorageError{Op: "UpdateProject", Err: err}
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes a Project. Tasks and content sources referencing it
// are expected to cascade per the schema's foreign key constraints.
func (s *PostgresStore) DeleteProject(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return &apperrors.StorageError{Op: "DeleteProject", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{Entity: "Project", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// ListContentSourcesForProject returns every ContentSource registered under
// a project, the set ScanProject walks.
func (s *PostgresStore) ListContentSourcesForProject(ctx context.Context, projectID int64) ([]ContentSource, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, project_id, path, type, total_items, used_items, last_scanned
FROM content_sources WHERE project_id = $1 ORDER BY id
`, projectID)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ListContentSourcesForProject", Err: err}
	}
	defer rows.Close()
	var sources []ContentSource
	for rows.Next() {
		var cs ContentSource
		if err := rows.Scan(&cs.ID, &cs.ProjectID, &cs.Path, &cs.Type, &cs.TotalItems, &cs.UsedItems, &cs.LastScanned); err != nil {
			return nil, &apperrors.StorageError{Op: "ListContentSourcesForProject:scan", Err: err}
		}
		sources = append(sources, cs)
	}
	return sources, rows.Err()
}

// ContentSourceWithProject pairs a ContentSource with the project that
// owns it, for a scan pass that covers every registered source rather
// than one project.
type ContentSourceWithProject struct {
	ProjectID int64
	Source    ContentSource
}

// ListAllContentSources returns every ContentSource across every project,
// the set the periodic scanner loop covers when no --project filter is
// given.
func (s *PostgresStore) ListAllContentSources(ctx context.Context) ([]ContentSourceWithProject, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, project_id, path, type, total_items, used_items, last_scanned
FROM content_sources ORDER BY project_id, id
`)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ListAllContentSources", Err: err}
	}
	defer rows.Close()
	var out []ContentSourceWithProject
	for rows.Next() {
		var cs ContentSource
		if err := rows.Scan(&cs.ID, &cs.ProjectID, &cs.Path, &cs.Type, &cs.TotalItems, &cs.UsedItems, &cs.LastScanned); err != nil {
			return nil, &apperrors.StorageError{Op: "ListAllContentSources:scan", Err: err}
		}
		out = append(out, ContentSourceWithProject{ProjectID: cs.ProjectID, Source: cs})
	}
	return out, rows.Err()
}

// AnalyticsRange returns the AnalyticsHourly buckets between from and to
// (inclusive), optionally narrowed to one project, for the control
// surface's AnalyticsOverview/Trends operation.
func (s *PostgresStore) AnalyticsRange(ctx context.Context, projectID *int64, from, to time.Time) ([]AnalyticsHourly, error) {
	where := "WHERE hour_timestamp BETWEEN $1 AND $2"
	args := []any{from, to}
	if projectID != nil {
		args = append(args, *projectID)
		where += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	sql := fmt.Sprintf(`
SELECT hour_timestamp, project_id, successful_tasks, failed_tasks, total_duration_seconds
FROM analytics_hourly %s
ORDER BY hour_timestamp ASC
`, where)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "AnalyticsRange", Err: err}
	}
	defer rows.Close()
	var out []AnalyticsHourly
	for rows.Next() {
		var a AnalyticsHourly
		if err := rows.Scan(&a.HourTimestamp, &a.ProjectID, &a.SuccessfulTasks, &a.FailedTasks, &a.TotalDurationSeconds); err != nil {
			return nil, &apperrors.StorageError{Op: "AnalyticsRange:scan", Err: err}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountTasksByStatus returns the number of tasks in each TaskStatus, used
// by the `status` CLI command and the control surface's Health operation.
func (s *PostgresStore) CountTasksByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM publishing_tasks GROUP BY status`)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "CountTasksByStatus", Err: err}
	}
	defer rows.Close()
	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &apperrors.StorageError{Op: "CountTasksByStatus:scan", Err: err}
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Ping verifies the pool can reach the database, for the Health operation's
// db component.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &apperrors.StorageError{Op: "Ping", Err: err}
	}
	return nil
}

// AppendLog inserts a PublishingLog row directly, used outside the
// CompleteTask flow (e.g. a worker that crashes mid-publish and the
// recovery path records what happened).
func (s *PostgresStore) AppendLog(ctx context.Context, row PublishingLog) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO publishing_logs (task_id, platform_post_id, caption, outcome, error_text, duration_seconds, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, row.TaskID, row.PlatformPostID, row.Caption, row.Outcome, row.ErrorText, row.DurationS, row.PublishedAt)
	if err != nil {
		return &apperrors.StorageError{Op: "AppendLog", Err: err}
	}
	return nil
}

// UpsertHourly atomically accumulates into an hourly counter, satisfying
// §8's idempotence law when callers key by log row id and never double-
// apply the same row (enforced by the Roll-up's rolled_up_at marker).
func (s *PostgresStore) UpsertHourly(ctx context.Context, hour time.Time, projectID int64, successDelta, failDelta int64, durationDelta float64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO analytics_hourly (hour_timestamp, project_id, successful_tasks, failed_tasks, total_duration_seconds)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (hour_timestamp, project_id) DO UPDATE SET
    successful_tasks = analytics_hourly.successful_tasks + EXCLUDED.successful_tasks,
    failed_tasks = analytics_hourly.failed_tasks + EXCLUDED.failed_tasks,
    total_duration_seconds = analytics_hourly.total_duration_seconds + EXCLUDED.total_duration_seconds
`, hour, projectID, successDelta, failDelta, durationDelta)
	if err != nil {
		return &apperrors.StorageError{Op: "UpsertHourly", Err: err}
	}
	return nil
}

// ListUnrolledLogs returns up to limit PublishingLog rows with
// rolled_up_at still NULL, oldest first, joined with their task's
// project_id for the Roll-up's AnalyticsHourly accumulation.
func (s *PostgresStore) ListUnrolledLogs(ctx context.Context, limit int) ([]UnrolledLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT l.id, l.task_id, l.platform_post_id, l.caption, l.outcome, l.error_text, l.duration_seconds, l.published_at, l.rolled_up_at, t.project_id
FROM publishing_logs l
JOIN publishing_tasks t ON t.id = l.task_id
WHERE l.rolled_up_at IS NULL
ORDER BY l.id ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "ListUnrolledLogs", Err: err}
	}
	defer rows.Close()

	var logs []UnrolledLog
	for rows.Next() {
		var l UnrolledLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.PlatformPostID, &l.Caption, &l.Outcome, &l.ErrorText, &l.DurationS, &l.PublishedAt, &l.RolledUpAt, &l.ProjectID); err != nil {
			return nil, &apperrors.StorageError{Op: "ListUnrolledLogs:scan", Err: err}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StorageError{Op: "ListUnrolledLogs:rows", Err: err}
	}
	return logs, nil
}

// MarkRolledUp stamps rolled_up_at on the given log rows so a later sweep
// never double-applies them to AnalyticsHourly, satisfying §4.7's
// per-log-row idempotence requirement.
func (s *PostgresStore) MarkRolledUp(ctx context.Context, logIDs []int64, now time.Time) error {
	if len(logIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
UPDATE publishing_logs SET rolled_up_at = $1 WHERE id = ANY($2)
`, now, logIDs)
	if err != nil {
		return &apperrors.StorageError{Op: "MarkRolledUp", Err: err}
	}
	return nil
}

// RecoverStaleClaims finds running tasks whose lease has expired, reverts
// them to pending, bumps retry_count, and records a lease_expired log row —
// the crash-recovery half of §4.1's claim protocol.
func (s *PostgresStore) RecoverStaleClaims(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id FROM publishing_tasks
WHERE status = 'running' AND lease_expires_at < $1
FOR UPDATE SKIP LOCKED
`, now)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:select", Err: err}
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:scan", Err: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:rows", Err: err}
	}

	recovered := 0
	for _, id := range ids {
		tag, err := tx.Exec(ctx, `
UPDATE publishing_tasks
SET status = 'pending', retry_count = retry_count + 1, version = version + 1,
    worker_id = '', lease_expires_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'running'
`, id, now)
		if err != nil {
			return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:update", Err: err}
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO publishing_logs (task_id, outcome, error_text, published_at)
VALUES ($1, 'lease_expired', 'claim lease expired before completion', $2)
`, id, now); err != nil {
			return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:log", Err: err}
		}
		recovered++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &apperrors.StorageError{Op: "RecoverStaleClaims:commit", Err: err}
	}
	if recovered > 0 {
		s.logger.Warn("recovered %d stale claims", recovered)
	}
	return recovered, nil
}

// CreateProject inserts a new Project, owned by an operator-managed User.
func (s *PostgresStore) CreateProject(ctx context.Context, p Project) (Project, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO projects (owner_id, name, description) VALUES ($1, $2, $3)
RETURNING id, owner_id, name, description, created_at
`, p.OwnerID, p.Name, p.Description)
	var out Project
	if err := row.Scan(&out.ID, &out.OwnerID, &out.Name, &out.Description, &out.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Project{}, &apperrors.ConflictError{Message: fmt.Sprintf("project %q already exists for owner %d", p.Name, p.OwnerID)}
		}
		return Project{}, &apperrors.StorageError{Op: "CreateProject", Err: err}
	}
	return out, nil
}

// UpsertContentSource creates or returns the existing ContentSource for a
// (project, path) pair, since the Scanner re-discovers the same sources on
// every pass.
func (s *PostgresStore) UpsertContentSource(ctx context.Context, cs ContentSource) (ContentSource, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO content_sources (project_id, path, type) VALUES ($1, $2, $3)
ON CONFLICT (project_id, path) DO UPDATE SET type = EXCLUDED.type
RETURNING id, project_id, path, type, total_items, used_items, last_scanned
`, cs.ProjectID, cs.Path, cs.Type)
	var out ContentSource
	if err := row.Scan(&out.ID, &out.ProjectID, &out.Path, &out.Type, &out.TotalItems, &out.UsedItems, &out.LastScanned); err != nil {
		return ContentSource{}, &apperrors.StorageError{Op: "UpsertContentSource", Err: err}
	}
	return out, nil
}

// RecordScan updates a ContentSource's counters after a Scanner pass.
func (s *PostgresStore) RecordScan(ctx context.Context, sourceID int64, totalItems, usedItems int, scannedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE content_sources SET total_items = $2, used_items = $3, last_scanned = $4 WHERE id = $1
`, sourceID, totalItems, usedItems, scannedAt)
	if err != nil {
		return &apperrors.StorageError{Op: "RecordScan", Err: err}
	}
	return nil
}

// HashAPIKey derives the stored hash of a plaintext API key. Plaintext is
// never persisted, per spec.md §3.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IssueAPIKey generates a fresh opaque plaintext key, stores only its hash,
// and returns the plaintext once for the caller to record.
func (s *PostgresStore) IssueAPIKey(ctx context.Context, userID int64, permissions []string) (plaintext string, key ApiKey, err error) {
	plaintext = uuid.NewString()
	hash := HashAPIKey(plaintext)
	row := s.pool.QueryRow(ctx, `
INSERT INTO api_keys (user_id, key_hash, permissions, active) VALUES ($1, $2, $3, true)
RETURNING id, user_id, key_hash, permissions, active, last_used_at
`, userID, hash, permissions)
	if err := row.Scan(&key.ID, &key.UserID, &key.KeyHash, &key.Permissions, &key.Active, &key.LastUsedAt); err != nil {
		return "", ApiKey{}, &apperrors.StorageError{Op: "IssueAPIKey", Err: err}
	}
	return plaintext, key, nil
}

// AuthenticateKey validates a plaintext caller credential and returns the
// owning User and the key's permission set. The core treats the caller as
// opaque beyond this; transport is an adapter concern.
func (s *PostgresStore) AuthenticateKey(ctx context.Context, plaintext string) (User, []string, error) {
	hash := HashAPIKey(plaintext)
	var u User
	var perms []string
	var active bool
	row := s.pool.QueryRow(ctx, `
SELECT u.id, u.username, u.role, k.permissions, k.active
FROM api_keys k JOIN users u ON u.id = k.user_id
WHERE k.key_hash = $1
`, hash)
	if err := row.Scan(&u.ID, &u.Username, &u.Role, &perms, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, nil, &apperrors.NotFoundError{Entity: "ApiKey", ID: "<redacted>"}
		}
		return User{}, nil, &apperrors.StorageError{Op: "AuthenticateKey", Err: err}
	}
	if !active {
		return User{}, nil, &apperrors.PermanentError{Message: "api key is inactive"}
	}
	_, _ = s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE key_hash = $1`, hash)
	return u, perms, nil
}

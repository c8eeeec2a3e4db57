// Package controlplane implements the named operations of spec.md §6's
// control surface: the core logic any transport (HTTP, CLI) binds to. The
// Service holds no transport concerns — no JSON, no HTTP status codes —
// just the store and the running components it fronts.
package controlplane

import (
	"context"
	"fmt"
	"time"

	"publishengine/internal/apperrors"
	"publishengine/internal/governor"
	"publishengine/internal/logging"
	"publishengine/internal/scanner"
	"publishengine/internal/store"
)

// TaskStore is the subset of internal/store the control surface depends on.
type TaskStore interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.PublishingTask, int, error)
	GetTask(ctx context.Context, id int64) (store.PublishingTask, error)
	CreateTask(ctx context.Context, item store.TaskBatch) (int64, error)
	UpdateTask(ctx context.Context, id int64, expectedVersion int64, patch store.TaskPatch, now time.Time) (store.PublishingTask, error)
	DeleteTask(ctx context.Context, id int64) error
	RescheduleTask(ctx context.Context, taskID int64, expectedVersion int64, newScheduledAt time.Time, now time.Time) error
	CancelTask(ctx context.Context, taskID int64, expectedVersion int64, reason string, now time.Time) error
	ListProjects(ctx context.Context) ([]store.Project, error)
	GetProject(ctx context.Context, id int64) (store.Project, error)
	CreateProject(ctx context.Context, p store.Project) (store.Project, error)
	UpdateProject(ctx context.Context, id int64, name, description string) (store.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	ListContentSourcesForProject(ctx context.Context, projectID int64) ([]store.ContentSource, error)
	RecordScan(ctx context.Context, sourceID int64, totalItems, usedItems int, scannedAt time.Time) error
	AnalyticsRange(ctx context.Context, projectID *int64, from, to time.Time) ([]store.AnalyticsHourly, error)
	CountTasksByStatus(ctx context.Context) (map[store.TaskStatus]int, error)
	AuthenticateKey(ctx context.Context, plaintext string) (store.User, []string, error)
	Ping(ctx context.Context) error
}

// SchedulerStatusProvider reports the Scheduler loop's last completed pass.
type SchedulerStatusProvider interface {
	LastRun() time.Time
}

// GovernorStatusProvider reports one named Rate Governor's current pressure.
type GovernorStatusProvider interface {
	CurrentPressure() governor.Pressure
}

// HealthChecker is implemented by the Generator/Publisher adapters and any
// other dependency the Health operation should probe.
type HealthChecker interface {
	Name() string
	Healthy(ctx context.Context) error
}

// WorkerPoolStatusProvider reports whether the Worker Pool is currently
// running workers, used by the Health operation's "workers" component.
type WorkerPoolStatusProvider interface {
	ActiveWorkers() int
}

// Service implements every operation in spec.md §6's control-surface table.
type Service struct {
	store      TaskStore
	scanner    *scanner.Scanner
	scheduler  SchedulerStatusProvider
	governors  map[string]GovernorStatusProvider
	health     []HealthChecker
	pool       WorkerPoolStatusProvider
	logger     logging.Logger
}

// New constructs a Service. scheduler, pool, and the governors/health
// entries may be nil/empty when a caller only needs the CRUD surface (e.g.
// a migration-only CLI invocation).
func New(taskStore TaskStore, sc *scanner.Scanner, scheduler SchedulerStatusProvider, governors map[string]GovernorStatusProvider, health []HealthChecker, pool WorkerPoolStatusProvider, logger logging.Logger) *Service {
	return &Service{store: taskStore, scanner: sc, scheduler: scheduler, governors: governors, health: health, pool: pool, logger: logging.OrNop(logger)}
}

// Page is one page of ListTasks results plus pagination metadata.
type Page struct {
	Tasks  []store.PublishingTask
	Total  int
	Limit  int
	Offset int
}

// ListTasks implements the ListTasks operation.
func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) (Page, error) {
	tasks, total, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	return Page{Tasks: tasks, Total: total, Limit: limit, Offset: filter.Offset}, nil
}

// GetTask implements the GetTask operation.
func (s *Service) GetTask(ctx context.Context, id int64) (store.PublishingTask, error) {
	return s.store.GetTask(ctx, id)
}

// CreateTaskInput is the CreateTask operation's input.
type CreateTaskInput struct {
	ProjectID   int64
	SourceID    int64
	MediaPath   string
	ContentData []byte
	ScheduledAt *time.Time
	Priority    int
}

// CreateTask implements the CreateTask operation, defaulting ScheduledAt to
// now when the caller omits it.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (int64, error) {
	if in.MediaPath == "" {
		return 0, &apperrors.ValidationError{Field: "media_path", Message: "required"}
	}
	scheduledAt := time.Now().UTC()
	if in.ScheduledAt != nil {
		scheduledAt = *in.ScheduledAt
	}
	return s.store.CreateTask(ctx, store.TaskBatch{
		ProjectID:   in.ProjectID,
		SourceID:    in.SourceID,
		MediaPath:   in.MediaPath,
		ContentData: in.ContentData,
		ScheduledAt: scheduledAt,
		Priority:    in.Priority,
	})
}

// UpdateTask implements the UpdateTask operation.
func (s *Service) UpdateTask(ctx context.Context, id int64, expectedVersion int64, patch store.TaskPatch) (store.PublishingTask, error) {
	return s.store.UpdateTask(ctx, id, expectedVersion, patch, time.Now().UTC())
}

// DeleteTask implements the DeleteTask operation.
func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	return s.store.DeleteTask(ctx, id)
}

// ExecuteTaskNow implements the ExecuteTaskNow operation: it enqueues the
// task for immediate claim by setting scheduled_at=now.
func (s *Service) ExecuteTaskNow(ctx context.Context, id int64, expectedVersion int64) error {
	return s.store.RescheduleTask(ctx, id, expectedVersion, time.Now().UTC(), time.Now().UTC())
}

// CancelTask implements the CancelTask operation.
func (s *Service) CancelTask(ctx context.Context, id int64, expectedVersion int64) error {
	return s.store.CancelTask(ctx, id, expectedVersion, "operator requested", time.Now().UTC())
}

// BulkActionResult is one id's outcome within a BulkAction call.
type BulkActionResult struct {
	ID    int64
	Error string
}

// BulkAction implements the BulkAction operation: cancel or delete applied
// to every id, each independently, reporting a per-id outcome rather than
// failing the whole batch on one bad id.
func (s *Service) BulkAction(ctx context.Context, ids []int64, action string) []BulkActionResult {
	results := make([]BulkActionResult, 0, len(ids))
	for _, id := range ids {
		var err error
		switch action {
		case "cancel":
			task, getErr := s.store.GetTask(ctx, id)
			if getErr != nil {
				err = getErr
				break
			}
			err = s.CancelTask(ctx, id, task.Version)
		case "delete":
			err = s.DeleteTask(ctx, id)
		default:
			err = &apperrors.ValidationError{Field: "action", Message: fmt.Sprintf("unsupported action %q", action)}
		}
		result := BulkActionResult{ID: id}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// ListProjects implements the ListProjects operation.
func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

// GetProject implements the read half of ListProjects/CRUD.
func (s *Service) GetProject(ctx context.Context, id int64) (store.Project, error) {
	return s.store.GetProject(ctx, id)
}

// CreateProject implements the create half of ListProjects/CRUD.
func (s *Service) CreateProject(ctx context.Context, p store.Project) (store.Project, error) {
	return s.store.CreateProject(ctx, p)
}

// UpdateProject implements the update half of ListProjects/CRUD.
func (s *Service) UpdateProject(ctx context.Context, id int64, name, description string) (store.Project, error) {
	return s.store.UpdateProject(ctx, id, name, description)
}

// DeleteProject implements the delete half of ListProjects/CRUD.
func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	return s.store.DeleteProject(ctx, id)
}

// ScanResult tallies one ScanProject call across every ContentSource
// registered under the project.
type ScanResult struct {
	SourcesScanned int
	Created        int
	Skipped        int
}

// ScanProject implements the ScanProject operation: a one-shot walk of
// every ContentSource under a project, the same work the Scanner's
// periodic loop does per-source.
func (s *Service) ScanProject(ctx context.Context, projectID int64) (ScanResult, error) {
	if s.scanner == nil {
		return ScanResult{}, &apperrors.ConfigError{Key: "scanner", Message: "no scanner configured"}
	}
	sources, err := s.store.ListContentSourcesForProject(ctx, projectID)
	if err != nil {
		return ScanResult{}, err
	}
	now := time.Now().UTC()
	var result ScanResult
	for _, source := range sources {
		created, skipped, err := s.scanner.Scan(ctx, projectID, source, now)
		if err != nil {
			s.logger.Error("scan project %d source %d: %v", projectID, source.ID, err)
			continue
		}
		result.SourcesScanned++
		result.Created += created
		result.Skipped += skipped
	}
	return result, nil
}

// SchedulerStatusResult is the SchedulerStatus operation's result.
type SchedulerStatusResult struct {
	LastRun time.Time
	Backlog int
}

// SchedulerStatus implements the SchedulerStatus operation.
func (s *Service) SchedulerStatus(ctx context.Context) (SchedulerStatusResult, error) {
	counts, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		return SchedulerStatusResult{}, err
	}
	result := SchedulerStatusResult{Backlog: counts[store.StatusPending]}
	if s.scheduler != nil {
		result.LastRun = s.scheduler.LastRun()
	}
	return result, nil
}

// GovernorStatus implements the GovernorStatus operation, keyed by the
// governor name each was constructed with (§4.5: "multiple api_kinds get
// independent Governor instances").
func (s *Service) GovernorStatus() map[string]governor.Pressure {
	out := make(map[string]governor.Pressure, len(s.governors))
	for name, g := range s.governors {
		out[name] = g.CurrentPressure()
	}
	return out
}

// ComponentHealth is one dependency's health, per the Health operation's
// {db, workers, governor} shape generalized to every probed component.
type ComponentHealth struct {
	Name   string
	Status string // "healthy", "degraded", "down"
	Detail string
}

// Health implements the Health operation.
func (s *Service) Health(ctx context.Context) []ComponentHealth {
	var out []ComponentHealth

	dbHealth := ComponentHealth{Name: "db", Status: "healthy"}
	if err := s.store.Ping(ctx); err != nil {
		dbHealth.Status = "down"
		dbHealth.Detail = err.Error()
	}
	out = append(out, dbHealth)

	if s.pool != nil {
		workerHealth := ComponentHealth{Name: "workers", Status: "healthy"}
		if s.pool.ActiveWorkers() == 0 {
			workerHealth.Status = "down"
			workerHealth.Detail = "no active workers"
		}
		out = append(out, workerHealth)
	}

	for name, g := range s.governors {
		pressure := g.CurrentPressure()
		gh := ComponentHealth{Name: "governor:" + name, Status: "healthy"}
		if pressure.DayRemaining <= 0 {
			gh.Status = "degraded"
			gh.Detail = "daily quota exhausted"
		}
		out = append(out, gh)
	}

	for _, h := range s.health {
		ch := ComponentHealth{Name: h.Name(), Status: "healthy"}
		if err := h.Healthy(ctx); err != nil {
			ch.Status = "degraded"
			ch.Detail = err.Error()
		}
		out = append(out, ch)
	}
	return out
}

// AnalyticsOverview implements the AnalyticsOverview/Trends operation.
func (s *Service) AnalyticsOverview(ctx context.Context, projectID *int64, from, to time.Time) ([]store.AnalyticsHourly, error) {
	return s.store.AnalyticsRange(ctx, projectID, from, to)
}

// AuthenticateKey implements the control surface's key-hash authentication,
// per spec.md §6: "AuthenticateKey(plaintext) -> user + permissions".
func (s *Service) AuthenticateKey(ctx context.Context, plaintext string) (store.User, []string, error) {
	return s.store.AuthenticateKey(ctx, plaintext)
}

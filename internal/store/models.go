// Package store is the durable, transactionally consistent home for every
// entity in the publication engine: projects, content sources, publishing
// tasks, their immutable execution log, hourly analytics, and the
// credentials that authenticate control-surface callers.
package store

import "time"

// TaskStatus is the lifecycle state of a PublishingTask.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusRunning TaskStatus = "running"
	StatusSuccess TaskStatus = "success"
	StatusFailed  TaskStatus = "failed"
)

// LogOutcome is the result recorded by a single PublishingLog row.
type LogOutcome string

const (
	OutcomeSuccess      LogOutcome = "success"
	OutcomeTransient    LogOutcome = "transient_failure"
	OutcomePermanent    LogOutcome = "permanent_failure"
	OutcomeQuota        LogOutcome = "quota_exhausted"
	OutcomeLeaseExpired LogOutcome = "lease_expired"
)

// ContentSourceType tags what kind of media a ContentSource points at.
type ContentSourceType string

const (
	SourceTypeVideo     ContentSourceType = "video"
	SourceTypeImageSet  ContentSourceType = "image_set"
	SourceTypeText      ContentSourceType = "text"
)

// Project is a logical content namespace owned by a User.
type Project struct {
	ID          int64
	OwnerID     int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// ContentSource is a filesystem path under a Project that the Scanner walks.
type ContentSource struct {
	ID          int64
	ProjectID   int64
	Path        string
	Type        ContentSourceType
	TotalItems  int
	UsedItems   int
	LastScanned *time.Time
}

// PublishingTask is the primary work unit: one media item awaiting, or
// having undergone, publication.
type PublishingTask struct {
	ID           int64
	ProjectID    int64
	SourceID     int64
	MediaPath    string
	ContentData  []byte
	Status       TaskStatus
	ScheduledAt  time.Time
	Priority     int
	RetryCount   int
	Version      int64
	WorkerID     string
	LeaseExpires *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublishingLog is an immutable append-only record of one execution attempt.
type PublishingLog struct {
	ID             int64
	TaskID         int64
	PlatformPostID *string
	Caption        *string
	Outcome        LogOutcome
	ErrorText      string
	DurationS      float64
	PublishedAt    time.Time
	RolledUpAt     *time.Time
}

// AnalyticsHourly is an hourly roll-up of logged execution attempts, unique on
// (HourTimestamp, ProjectID).
type AnalyticsHourly struct {
	HourTimestamp        time.Time
	ProjectID            int64
	SuccessfulTasks       int64
	FailedTasks           int64
	TotalDurationSeconds float64
}

// UnrolledLog is a PublishingLog row joined with its task's project_id, the
// shape the Roll-up needs to accumulate into AnalyticsHourly without a
// second round trip per row.
type UnrolledLog struct {
	PublishingLog
	ProjectID int64
}

// User authenticates and owns Projects and ApiKeys.
type User struct {
	ID       int64
	Username string
	Role     string
}

// ApiKey stores a hash of a caller credential, never the plaintext.
type ApiKey struct {
	ID          int64
	UserID      int64
	KeyHash     string
	Permissions []string
	Active      bool
	LastUsedAt  *time.Time
}

// TaskFilter narrows ListTasks, per the control surface's ListTasks
// operation (spec.md §6): "filters: status, project_id, pagination".
type TaskFilter struct {
	Status    *TaskStatus
	ProjectID *int64
	Limit     int
	Offset    int
}

// TaskPatch is the set of fields UpdateTask may change, per the control
// surface's UpdateTask operation: "patch (priority, scheduled_at)".
type TaskPatch struct {
	Priority    *int
	ScheduledAt *time.Time
}

// TaskBatch is one item to insert via CreateTasks.
type TaskBatch struct {
	ProjectID   int64
	SourceID    int64
	MediaPath   string
	ContentData []byte
	ScheduledAt time.Time
	Priority    int
}

// CompletionOutcome classifies how a claimed task's execution ended, used by
// CompleteTask to decide the next status per spec.md §4.1.
type CompletionOutcome struct {
	Result         LogOutcome
	PlatformPostID *string
	Caption        *string
	ErrorText      string
	DurationS      float64
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	// AdviseCooldown overrides the exponential-backoff delay when Result is
	// OutcomeQuota: the Rate Governor's advised wait until quota refills,
	// per spec.md §4.4's "scheduled_at = now + governor-advised cooldown".
	// Zero means "use the standard backoff formula instead".
	AdviseCooldown time.Duration
}

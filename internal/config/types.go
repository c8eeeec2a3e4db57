// Package config loads the publication engine's CoreConfig: a single
// immutable object constructed at startup and threaded into every component
// constructor, replacing the implicit module-level globals an earlier
// generation of this kind of service tended to use.
package config

import "time"

// DBConfig configures the Task Store's connection pool.
type DBConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// MediaConfig locates the filesystem tree the Scanner walks.
type MediaConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// SchedulerConfig configures cadence placement.
type SchedulerConfig struct {
	MinPublishIntervalS   int   `mapstructure:"min_publish_interval_s" yaml:"min_publish_interval_s"`
	OptimalHours          []int `mapstructure:"optimal_hours" yaml:"optimal_hours"`
	BlackoutHours         []int `mapstructure:"blackout_hours" yaml:"blackout_hours"`
	DailyMinTasks         int   `mapstructure:"daily_min_tasks" yaml:"daily_min_tasks"`
	DailyMaxTasks         int   `mapstructure:"daily_max_tasks" yaml:"daily_max_tasks"`
	PlanningHorizonHours  int   `mapstructure:"planning_horizon_hours" yaml:"planning_horizon_hours"`
	TickIntervalS         int   `mapstructure:"tick_interval_s" yaml:"tick_interval_s"`
}

// WorkersConfig configures the worker pool.
type WorkersConfig struct {
	Count           int `mapstructure:"count" yaml:"count"`
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size"`
	CheckIntervalS  int `mapstructure:"check_interval_s" yaml:"check_interval_s"`
	TaskTimeoutS    int `mapstructure:"task_timeout_s" yaml:"task_timeout_s"`
	MaxRetries      int `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBaseS    int `mapstructure:"backoff_base_s" yaml:"backoff_base_s"`
	BackoffMaxS     int `mapstructure:"backoff_max_s" yaml:"backoff_max_s"`
	LeaseTTLS       int `mapstructure:"lease_ttl_s" yaml:"lease_ttl_s"`
}

// RateConfig configures the Rate Governor's buckets.
type RateConfig struct {
	PerMinute float64 `mapstructure:"per_minute" yaml:"per_minute"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
	PerDay    int     `mapstructure:"per_day" yaml:"per_day"`
}

// GeneratorConfig selects the caption-generation adapter.
type GeneratorConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Provider       string   `mapstructure:"provider" yaml:"provider"`
	CredentialsRef string   `mapstructure:"credentials_ref" yaml:"credentials_ref"`
	Endpoint       string   `mapstructure:"endpoint" yaml:"endpoint"`
	Language       string   `mapstructure:"language" yaml:"language"`
	StyleHints     []string `mapstructure:"style_hints" yaml:"style_hints"`
	MaxCaptionLen  int      `mapstructure:"max_caption_len" yaml:"max_caption_len"`
	TimeoutS       int      `mapstructure:"timeout_s" yaml:"timeout_s"`
	CacheSize      int      `mapstructure:"cache_size" yaml:"cache_size"`
}

// PublisherConfig selects the publishing adapter.
type PublisherConfig struct {
	Provider       string `mapstructure:"provider" yaml:"provider"`
	CredentialsRef string `mapstructure:"credentials_ref" yaml:"credentials_ref"`
	CharLimit      int    `mapstructure:"char_limit" yaml:"char_limit"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	TimeoutS       int    `mapstructure:"timeout_s" yaml:"timeout_s"`
}

// HTTPConfig configures the control-surface adapter's listener and its
// request-handling limits, in the same spirit as the teacher's RouterConfig
// (rate limiting, request timeout, CORS).
type HTTPConfig struct {
	Addr            string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins  []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RequestTimeoutS int      `mapstructure:"request_timeout_s" yaml:"request_timeout_s"`
}

// CoreConfig is the fully-resolved, immutable configuration object built at
// startup. Nothing downstream reads viper or the environment directly; every
// value a component needs is a field here.
type CoreConfig struct {
	DB        DBConfig        `mapstructure:"db" yaml:"db"`
	Media     MediaConfig     `mapstructure:"media" yaml:"media"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Workers   WorkersConfig   `mapstructure:"workers" yaml:"workers"`
	Rate      RateConfig      `mapstructure:"rate" yaml:"rate"`
	Generator GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Publisher PublisherConfig `mapstructure:"publisher" yaml:"publisher"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Timezone  string          `mapstructure:"timezone" yaml:"timezone"`
}

// Defaults returns a CoreConfig populated with spec.md §6's bracketed
// defaults, before file/env overlay.
func Defaults() CoreConfig {
	return CoreConfig{
		DB: DBConfig{PoolSize: 10},
		Scheduler: SchedulerConfig{
			MinPublishIntervalS:  14400,
			OptimalHours:         []int{9, 12, 15, 18, 21},
			BlackoutHours:        []int{0, 1, 2, 3, 4, 5, 6},
			DailyMinTasks:        5,
			DailyMaxTasks:        6,
			PlanningHorizonHours: 72,
			TickIntervalS:        60,
		},
		Workers: WorkersConfig{
			Count:          3,
			BatchSize:      5,
			CheckIntervalS: 30,
			TaskTimeoutS:   300,
			MaxRetries:     3,
			BackoffBaseS:   60,
			BackoffMaxS:    3600,
			LeaseTTLS:      600,
		},
		Generator: GeneratorConfig{Enabled: true, Language: "en", MaxCaptionLen: 280, TimeoutS: 30, CacheSize: 256},
		Publisher: PublisherConfig{CharLimit: 280, TimeoutS: 30},
		HTTP:      HTTPConfig{Addr: ":8080", RequestTimeoutS: 30},
		Timezone:  "UTC",
	}
}

// RequestTimeout returns the control surface's per-request cap as a
// time.Duration.
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS) * time.Second
}

// MinPublishInterval returns the scheduler spacing rule as a time.Duration.
func (c SchedulerConfig) MinPublishInterval() time.Duration {
	return time.Duration(c.MinPublishIntervalS) * time.Second
}

// PlanningHorizon returns the scheduler look-ahead as a time.Duration.
func (c SchedulerConfig) PlanningHorizon() time.Duration {
	return time.Duration(c.PlanningHorizonHours) * time.Hour
}

// TickInterval returns the scheduler's re-plan period as a time.Duration.
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalS) * time.Second
}

// CheckInterval returns the worker pool's idle sleep as a time.Duration.
func (c WorkersConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalS) * time.Second
}

// TaskTimeout returns the per-execution cap as a time.Duration.
func (c WorkersConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutS) * time.Second
}

// BackoffBase returns the retry backoff base as a time.Duration.
func (c WorkersConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseS) * time.Second
}

// BackoffMax returns the retry backoff ceiling as a time.Duration.
func (c WorkersConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxS) * time.Second
}

// LeaseTTL returns the claim lease duration as a time.Duration.
func (c WorkersConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLS) * time.Second
}

// Timeout returns the Generator's per-call timeout as a time.Duration.
func (c GeneratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// Timeout returns the Publisher's per-call timeout as a time.Duration.
func (c PublisherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// Location resolves the configured timezone, used by the Scheduler to
// evaluate blackout/optimal hours and daily caps in local wall-clock terms
// while everything remains stored in UTC.
func (c CoreConfig) Location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return time.LoadLocation(tz)
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"publishengine/internal/apperrors"
)

// Load builds a CoreConfig from defaults, overlaid by an optional config
// file and then by environment variables, following the teacher CLI's own
// viper wiring (SetConfigName/AddConfigPath/ReadInConfig) generalized to
// this engine's option set.
//
// configPath, if non-empty, names an explicit file to load; otherwise viper
// searches "publishengine.yaml" in the working directory and $HOME.
func Load(configPath string) (CoreConfig, error) {
	v := viper.New()
	applyDefaults(v, Defaults())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("publishengine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("PUBLISHENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return CoreConfig{}, &apperrors.ConfigError{Key: "file", Message: err.Error()}
		}
	}

	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return CoreConfig{}, &apperrors.ConfigError{Key: "unmarshal", Message: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper, d CoreConfig) {
	v.SetDefault("db.pool_size", d.DB.PoolSize)
	v.SetDefault("scheduler.min_publish_interval_s", d.Scheduler.MinPublishIntervalS)
	v.SetDefault("scheduler.optimal_hours", d.Scheduler.OptimalHours)
	v.SetDefault("scheduler.blackout_hours", d.Scheduler.BlackoutHours)
	v.SetDefault("scheduler.daily_min_tasks", d.Scheduler.DailyMinTasks)
	v.SetDefault("scheduler.daily_max_tasks", d.Scheduler.DailyMaxTasks)
	v.SetDefault("scheduler.planning_horizon_hours", d.Scheduler.PlanningHorizonHours)
	v.SetDefault("scheduler.tick_interval_s", d.Scheduler.TickIntervalS)
	v.SetDefault("workers.count", d.Workers.Count)
	v.SetDefault("workers.batch_size", d.Workers.BatchSize)
	v.SetDefault("workers.check_interval_s", d.Workers.CheckIntervalS)
	v.SetDefault("workers.task_timeout_s", d.Workers.TaskTimeoutS)
	v.SetDefault("workers.max_retries", d.Workers.MaxRetries)
	v.SetDefault("workers.backoff_base_s", d.Workers.BackoffBaseS)
	v.SetDefault("workers.backoff_max_s", d.Workers.BackoffMaxS)
	v.SetDefault("workers.lease_ttl_s", d.Workers.LeaseTTLS)
	v.SetDefault("generator.enabled", d.Generator.Enabled)
	v.SetDefault("generator.language", d.Generator.Language)
	v.SetDefault("generator.max_caption_len", d.Generator.MaxCaptionLen)
	v.SetDefault("generator.timeout_s", d.Generator.TimeoutS)
	v.SetDefault("generator.cache_size", d.Generator.CacheSize)
	v.SetDefault("publisher.char_limit", d.Publisher.CharLimit)
	v.SetDefault("publisher.timeout_s", d.Publisher.TimeoutS)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.request_timeout_s", d.HTTP.RequestTimeoutS)
	v.SetDefault("timezone", d.Timezone)
}

// Validate checks for missing required options, per spec.md §7's Config
// error kind: "missing or malformed option; fatal at startup."
func (c CoreConfig) Validate() error {
	if c.DB.URL == "" {
		return &apperrors.ConfigError{Key: "db.url", Message: "connection target is required"}
	}
	if c.Media.Root == "" {
		return &apperrors.ConfigError{Key: "media.root", Message: "media root directory is required"}
	}
	if c.Scheduler.DailyMinTasks > c.Scheduler.DailyMaxTasks {
		return &apperrors.ConfigError{Key: "scheduler.daily_min_tasks", Message: "must not exceed daily_max_tasks"}
	}
	if c.Workers.Count < 1 {
		return &apperrors.ConfigError{Key: "workers.count", Message: "must be at least 1"}
	}
	if _, err := c.Location(); err != nil {
		return &apperrors.ConfigError{Key: "timezone", Message: err.Error()}
	}
	return nil
}

// ResolveSecret reads the named environment variable. Config fields that
// hold credentials (generator.credentials_ref, publisher.credentials_ref)
// store the variable name, never the secret value, per spec.md §6.
func (c CoreConfig) ResolveSecret(ref string) (string, error) {
	if ref == "" {
		return "", &apperrors.ConfigError{Key: "credentials_ref", Message: "empty credential reference"}
	}
	val, ok := os.LookupEnv(ref)
	if !ok {
		return "", &apperrors.ConfigError{Key: ref, Message: "referenced environment variable is not set"}
	}
	return val, nil
}

// String redacts credential references so logging the config never leaks
// secrets, even indirectly, into process-scoped log lines.
func (c CoreConfig) String() string {
	return fmt.Sprintf(
		"CoreConfig{db.pool_size=%d media.root=%s workers.count=%d rate.per_minute=%.1f timezone=%s}",
		c.DB.PoolSize, c.Media.Root, c.Workers.Count, c.Rate.PerMinute, c.Timezone,
	)
}

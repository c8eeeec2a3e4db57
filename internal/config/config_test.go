package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecBrackets(t *testing.T) {
	d := Defaults()
	require.Equal(t, 10, d.DB.PoolSize)
	require.Equal(t, 14400, d.Scheduler.MinPublishIntervalS)
	require.Equal(t, []int{9, 12, 15, 18, 21}, d.Scheduler.OptimalHours)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, d.Scheduler.BlackoutHours)
	require.Equal(t, 5, d.Scheduler.DailyMinTasks)
	require.Equal(t, 6, d.Scheduler.DailyMaxTasks)
	require.Equal(t, 72, d.Scheduler.PlanningHorizonHours)
	require.Equal(t, 60, d.Scheduler.TickIntervalS)
	require.Equal(t, 3, d.Workers.Count)
	require.Equal(t, 5, d.Workers.BatchSize)
	require.Equal(t, 600, d.Workers.LeaseTTLS)
	require.True(t, d.Generator.Enabled)
	require.Equal(t, 280, d.Publisher.CharLimit)
	require.Equal(t, "UTC", d.Timezone)
}

func TestValidateRequiresDBURLAndMediaRoot(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)

	cfg.DB.URL = "postgres://localhost/publish"
	err = cfg.Validate()
	require.Error(t, err)

	cfg.Media.Root = "/srv/media"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvertedDailyBounds(t *testing.T) {
	cfg := Defaults()
	cfg.DB.URL = "postgres://localhost/publish"
	cfg.Media.Root = "/srv/media"
	cfg.Scheduler.DailyMinTasks = 10
	cfg.Scheduler.DailyMaxTasks = 2

	require.Error(t, cfg.Validate())
}

func TestResolveSecretReadsEnv(t *testing.T) {
	cfg := Defaults()
	t.Setenv("PUBLISHER_TOKEN", "secret-value")

	got, err := cfg.ResolveSecret("PUBLISHER_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "secret-value", got)

	_, err = cfg.ResolveSecret("PUBLISHER_TOKEN_MISSING")
	require.Error(t, err)
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Publisher.CredentialsRef = "PUBLISHER_TOKEN"
	require.NotContains(t, cfg.String(), "PUBLISHER_TOKEN")
}

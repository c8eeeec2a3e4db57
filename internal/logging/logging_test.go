package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetMinLevel(LevelDebug)
	defer SetOutput(os.Stderr)
	defer SetMinLevel(LevelInfo)

	l := NewCategoryLogger("STORE", "postgres")
	l.Info("claimed %d tasks", 3)

	line := buf.String()
	require.True(t, strings.Contains(line, "[INFO]"), "expected INFO level, got %q", line)
	require.True(t, strings.Contains(line, "[STORE]"))
	require.True(t, strings.Contains(line, "[postgres]"))
	require.True(t, strings.Contains(line, "claimed 3 tasks"))
}

func TestOrNopHandlesNil(t *testing.T) {
	var l Logger
	safe := OrNop(l)
	require.NotPanics(t, func() {
		safe.Debug("no-op")
		safe.Info("no-op")
		safe.Warn("no-op")
		safe.Error("no-op")
	})
}

func TestMinLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetMinLevel(LevelWarn)
	defer SetOutput(os.Stderr)
	defer SetMinLevel(LevelInfo)

	l := NewComponentLogger("scheduler")
	l.Debug("should not appear")
	l.Info("should not appear either")
	require.Empty(t, buf.String())

	l.Warn("this one shows")
	require.Contains(t, buf.String(), "this one shows")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"huh":   LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

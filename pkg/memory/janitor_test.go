package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewJanitor_RejectsBadSchedule(t *testing.T) {
	engine := newTestEngine(t)

	_, err := NewJanitor(engine, JanitorConfig{CompactSchedule: "not a cron expression"})
	require.Error(t, err)
}

func TestJanitor_StartStop(t *testing.T) {
	engine := newTestEngine(t)

	janitor, err := NewJanitor(engine, JanitorConfig{})
	require.NoError(t, err)
	require.Equal(t, "30 3 * * *", janitor.cfg.CompactSchedule)
	require.Equal(t, "0 4 * * *", janitor.cfg.SweepSchedule)
	require.Equal(t, 7*24*time.Hour, janitor.cfg.TelemetryRetention)

	janitor.Start()
	janitor.Stop()
}

func TestJanitor_SweepHonorsRetention(t *testing.T) {
	engine, err := NewEngine(Config{Path: filepath.Join(t.TempDir(), "memory.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	insertAt(t, engine, 1, "aged out", CategoryAnnotation, nil, time.Now().AddDate(0, 0, -45))
	insertAt(t, engine, 1, "kept", CategoryAnnotation, nil, time.Now())

	janitor, err := NewJanitor(engine, JanitorConfig{RetentionDays: 30})
	require.NoError(t, err)
	janitor.runSweep()

	remaining, err := engine.Retrieve(context.Background(), 1, "", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "kept", remaining[0].Content)
}

func TestJanitor_SweepSkipsRetentionWhenDisabled(t *testing.T) {
	engine := newTestEngine(t)

	insertAt(t, engine, 1, "aged but retained", CategoryAnnotation, nil, time.Now().AddDate(0, 0, -400))

	janitor, err := NewJanitor(engine, JanitorConfig{})
	require.NoError(t, err)
	janitor.runSweep()

	remaining, err := engine.Retrieve(context.Background(), 1, "", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

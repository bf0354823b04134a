package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestLoad_EnvOverridesYAML(t *testing.T) {
	// GIVEN: A config file setting port, database path and lock settings
	// WHEN: SERVER_PORT is also set in the environment
	// THEN: The env var wins, YAML-only values are kept, the rest default

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "9000"
database:
  path: "/tmp/sales.db"
lock:
  redis_addr: "localhost:6379"
  ttl: 45s
pipeline:
  interval: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "/tmp/sales.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, 45*time.Second, cfg.Lock.TTL)
	assert.Equal(t, time.Hour, cfg.Pipeline.Interval)
	assert.Equal(t, 30, cfg.KPI.WindowDays)
	assert.Equal(t, 10, cfg.KPI.TopN)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "./data/sales.db", cfg.Database.Path)
	assert.Empty(t, cfg.Lock.RedisAddr)
	assert.Zero(t, cfg.Pipeline.Interval)
	assert.False(t, cfg.Pipeline.HaltOnFail)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Server.Origins())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("KPI_TOP_N", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kpi.top_n")
}

// =============================================================================
// THRESHOLDS
// =============================================================================

func TestLoader_MissingFileGivesDefaults(t *testing.T) {
	l, err := NewLoader(filepath.Join(t.TempDir(), "thresholds.yaml"), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, DefaultThresholds(), l.Current())
}

func TestLoader_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validation:\n  warn_percent: 5\n"), 0o644))

	l, err := NewLoader(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	got := l.Current()
	assert.Equal(t, int64(5), got.Validation.WarnPercent)
	assert.Equal(t, 20.0, got.Insights.RevenueAnomalyPercentage)
	assert.Equal(t, 3, got.Insights.TrendDetectionPeriods)
}

func TestLoader_RejectsOutOfRangePercent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validation:\n  warn_percent: 150\n"), 0o644))

	_, err := NewLoader(path, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "warn_percent")
}

func TestLoader_ReloadNotifiesAndKeepsOldOnError(t *testing.T) {
	// GIVEN: A loaded thresholds file and a change callback
	// WHEN: The file is rewritten, then corrupted
	// THEN: The first reload is applied and announced, the second is rejected

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validation:\n  warn_percent: 10\n"), 0o644))

	l, err := NewLoader(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	var seen []int64
	l.OnChange(func(th Thresholds) { seen = append(seen, th.Validation.WarnPercent) })

	require.NoError(t, os.WriteFile(path, []byte("validation:\n  warn_percent: 25\n"), 0o644))
	_, err = l.Reload()
	require.NoError(t, err)
	assert.Equal(t, int64(25), l.Current().Validation.WarnPercent)

	require.NoError(t, os.WriteFile(path, []byte("validation: [\n"), 0o644))
	_, err = l.Reload()
	assert.Error(t, err)
	assert.Equal(t, int64(25), l.Current().Validation.WarnPercent)
	assert.Equal(t, []int64{25}, seen)
}

func TestLoader_WatchStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	l, err := NewLoader(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	stop, err := l.Watch()
	require.NoError(t, err)
	stop()
	stop()
}

func TestStatic(t *testing.T) {
	th := DefaultThresholds()
	th.Validation.WarnPercent = 3
	var src ThresholdSource = Static(th)
	assert.Equal(t, int64(3), src.Current().Validation.WarnPercent)
}

func TestLogConfig_NewLogger(t *testing.T) {
	logger, err := LogConfig{Level: "debug"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = LogConfig{Level: "warn", Development: true}.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = LogConfig{Level: "loud"}.NewLogger()
	assert.ErrorContains(t, err, "log.level")
}

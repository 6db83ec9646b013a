package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_DSN", "postgres://localhost/harvester")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "curl", cfg.Subprocess.Binary)
	require.Equal(t, 3, cfg.Subprocess.MaxParallel)
	require.Equal(t, 50, cfg.Push.BigBatchThreshold)
	require.Equal(t, 10, cfg.Push.RunCap)
	require.Equal(t, 30, cfg.Harvest.MaxPushAgeDays)
	require.True(t, cfg.Fetch.RespectRobots)
}

func TestLoadEnvOverridesPushCaps(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_DSN", "postgres://localhost/harvester")
	t.Setenv("HARVESTER_PUSH_RUN_CAP", "25")
	t.Setenv("HARVESTER_PUSH_PER_TASK_CAP", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Push.RunCap)
	require.Equal(t, 5, cfg.Push.PerTaskCap)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_DSN", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dsn: postgres://db.internal/harvester
fetch:
  user_agent: custom-agent/1.0
push:
  webhook_url: https://hooks.example.com/send
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://db.internal/harvester", cfg.Database.DSN)
	require.Equal(t, "custom-agent/1.0", cfg.Fetch.UserAgent)
	require.Equal(t, "https://hooks.example.com/send", cfg.Push.WebhookURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_DSN", "postgres://localhost/harvester")

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Database.DSN = ""
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Fetch.MinDelayMs = 2000
	bad.Fetch.MaxDelayMs = 1000
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Push.RunCap = 0
	require.Error(t, bad.Validate())
}

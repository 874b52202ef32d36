package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/streamvault")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("ATTEMPT_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 0.85, cfg.MatchThreshold)
	assert.Equal(t, time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 2*time.Second, cfg.StreamDeadline)
	assert.Equal(t, time.Minute, cfg.UpgradeWindow)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/streamvault")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MATCH_THRESHOLD", "0.9")
	t.Setenv("ATTEMPT_TIMEOUT", "500ms")
	t.Setenv("UPGRADE_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 0.9, cfg.MatchThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.AttemptTimeout)
	assert.Equal(t, 30*time.Second, cfg.UpgradeWindow)
}

func TestLoadInvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/streamvault")
	t.Setenv("MATCH_THRESHOLD", "1.5")
	t.Setenv("ATTEMPT_TIMEOUT", "garbage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.MatchThreshold)
	assert.Equal(t, time.Second, cfg.AttemptTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://localhost/streamvault
server_port: "7070"
match_threshold: "0.95"
stream_deadline: 3s
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.ServerPort)
	assert.Equal(t, 0.95, cfg.MatchThreshold)
	assert.Equal(t, 3*time.Second, cfg.StreamDeadline)
	assert.Equal(t, time.Second, cfg.AttemptTimeout, "unset knobs keep defaults")
}

func TestLoadFromFileMissingDatabaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: \"7070\"\n"), 0o600))

	_, err := LoadFromFile(path)
	assert.ErrorIs(t, err, ErrMissingDatabaseURL)
}

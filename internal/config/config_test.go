package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/login", cfg.Auth.LoginURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Comments.RefetchDelay)
	assert.Equal(t, "0 3 * * *", cfg.Comments.ReconcileSchedule)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9000
  env: prod
database:
  driver: sqlite
  url: "file:rujing.db"
comments:
  refetch_delay: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:rujing.db", cfg.Database.URL)
	assert.Equal(t, time.Second, cfg.Comments.RefetchDelay)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Redis.URL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_AllowedOriginsFromEnv(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://rujing.example, ,https://m.rujing.example ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rujing.example", "https://m.rujing.example"}, cfg.Server.AllowedOrigins)
}

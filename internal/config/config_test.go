package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Reconciler.Interval)
	assert.Equal(t, 30*time.Second, cfg.Reconciler.InitialDelay)
	assert.True(t, cfg.Reconciler.Overdue)
	assert.True(t, cfg.Reconciler.Pending)
	assert.False(t, cfg.Reconciler.PrunePending)
	assert.False(t, cfg.Reconciler.RateKPIs)
	assert.True(t, cfg.Reconciler.NotifyOnDetect)
	assert.Equal(t, "sentinel:reconcile", cfg.Reconciler.Lock.Key)
	assert.Equal(t, 4*time.Minute, cfg.Reconciler.Lock.TTL)
	assert.Equal(t, 720*time.Hour, cfg.Lifecycle.ArchiveAfter)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.SweepInterval)
	assert.Equal(t, 587, cfg.Notifications.Email.Port)
	assert.Equal(t, "kpi_alert", cfg.Notifications.SMS.Template)
	assert.True(t, cfg.Notifications.Push.WebSocket)
	assert.False(t, cfg.Notifications.Push.MQTT.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	data := []byte(`
storage:
  driver: postgres
  dsn: postgres://sentinel@localhost/sentinel?sslmode=disable
server:
  listen: ":9090"
reconciler:
  interval: 1m
  rate_kpis: true
  lock:
    enabled: true
    redis_addr: redis:6379
notifications:
  sms:
    enabled: true
    gateway_url: https://sms.example.com
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Contains(t, cfg.Storage.DSN, "postgres://")
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, time.Minute, cfg.Reconciler.Interval)
	assert.True(t, cfg.Reconciler.RateKPIs)
	assert.True(t, cfg.Reconciler.Lock.Enabled)
	assert.Equal(t, "redis:6379", cfg.Reconciler.Lock.RedisAddr)
	assert.Equal(t, "https://sms.example.com", cfg.Notifications.SMS.GatewayURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_LOGGING_LEVEL", "error")
	t.Setenv("SENTINEL_SERVER_LISTEN", ":7070")
	t.Setenv("SENTINEL_RECONCILER_PRUNE_PENDING", "true")
	t.Setenv("SENTINEL_NOTIFICATIONS_SMS_API_KEY", "secret-key")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.True(t, cfg.Reconciler.PrunePending)
	assert.Equal(t, "secret-key", cfg.Notifications.SMS.APIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SENTINEL_STORAGE_PATH=/data/from-dotenv.db\n"), 0o644))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("SENTINEL_STORAGE_PATH") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/from-dotenv.db", cfg.Storage.Path)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("invalid: [yaml"), 0o644))

	_, err := config.Load(cfgPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			Storage: config.StorageConfig{Driver: "sqlite", Path: "x.db"},
			Logging: config.LoggingConfig{Format: "json"},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "unknown storage driver")

	cfg = base()
	cfg.Storage.Driver = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "storage.dsn")

	cfg = base()
	cfg.Logging.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "logging format")

	cfg = base()
	cfg.Notifications.Email.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "email.host")

	cfg = base()
	cfg.Reconciler.Lock.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "lock.ttl")
}

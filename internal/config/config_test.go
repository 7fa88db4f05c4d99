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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "tasks.express", cfg.Kafka.ExpressTopic)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.StaleAfter)
	assert.Greater(t, cfg.Scheduler.StaleAfter, cfg.Worker.Backoff.Max)
	assert.Equal(t, 2*time.Second, cfg.Worker.Backoff.Base)
	assert.Equal(t, 10*time.Minute, cfg.Worker.Backoff.Max)
	assert.InDelta(t, 0.2, cfg.Worker.Backoff.Jitter, 1e-9)
	assert.Equal(t, 90, cfg.Retention.LogDays)
	assert.Equal(t, "RW", cfg.Phone.DefaultRegion)
	assert.Equal(t, "16MB", cfg.Media.MaxUploadSize)
	assert.False(t, cfg.WhatsApp.Enabled())
	require.Len(t, cfg.SMS.Providers, 1)
	assert.Equal(t, 3, cfg.SMS.Providers[0].Breaker.FailThreshold)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9999"
whatsapp:
  phone_number_id: "1234"
scheduler:
  batch_size: 10
`), 0o600))

	t.Setenv("WADISP_WHATSAPP_ACCESS_TOKEN", "secret")
	t.Setenv("WADISP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 10, cfg.Scheduler.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.WhatsApp.Enabled())
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Processor.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Processor.ProcessingTimeout)
	assert.Equal(t, 2*time.Second, cfg.Processor.BackoffBase)
	assert.Equal(t, int64(1000), cfg.Health.PendingThreshold)
	assert.Equal(t, "orchestrator.events.dlq", cfg.Kafka.DLQTopic)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
processor:
  workers: 8
  max_retries: 5
  poll_interval: 250ms
database:
  driver: sqlite
  path: /tmp/events.db
redis:
  addresses: ["localhost:6379"]
modules:
  jobs: http://jobs.internal:8080
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Processor.Workers)
	assert.Equal(t, 5, cfg.Processor.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Processor.PollInterval)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/events.db", cfg.Database.Path)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "http://jobs.internal:8080", cfg.Modules["jobs"])
	assert.Equal(t, 20, cfg.Processor.BatchSize)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "secret", Database: "events", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=events sslmode=disable", cfg.DSN())
}

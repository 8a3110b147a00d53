package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://fans.example.com"]

database:
  url: "postgres://localhost/fans?sslmode=disable"

automation:
  max_attempts: 3
  backoff_base_seconds: 10
  backoff_max_seconds: 600
  workers: 8
  rules:
    - event_type: listen_click
      action_type: listen_followup
      delay_seconds: 120

experiments:
  cta_copy_key: cta_copy_v2
  variants: [control, urgent, friendly]

subjects:
  - subject_id: artist-1
    subscribe: true
    platforms: [spotify, tidal]

auth:
  api_keys:
    k1: ops@example.com
  trust_gateway_header: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://fans.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres", cfg.Storage.Type, "database url implies postgres storage")

	assert.Equal(t, 3, cfg.Automation.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Automation.BackoffBase())
	assert.Equal(t, 10*time.Minute, cfg.Automation.BackoffMax())
	assert.Equal(t, 8, cfg.Automation.Workers)
	require.Len(t, cfg.Automation.Rules, 1)
	assert.Equal(t, 2*time.Minute, cfg.Automation.Rules[0].Delay())

	assert.Equal(t, "cta_copy_v2", cfg.Experiments.CTACopyKey)
	assert.Len(t, cfg.Experiments.Variants, 3)

	require.Len(t, cfg.Subjects, 1)
	assert.Equal(t, "artist-1", cfg.Subjects[0].SubjectID)
	assert.True(t, cfg.Subjects[0].SupportsSubscribe)
	assert.Equal(t, []domain.Platform{domain.PlatformSpotify, domain.PlatformTidal}, cfg.Subjects[0].ListenPlatforms)

	assert.Equal(t, "ops@example.com", cfg.Auth.APIKeys["k1"])
	assert.True(t, cfg.Auth.TrustGatewayHeader)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5, cfg.Automation.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Automation.Lease())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "cta_copy", cfg.Experiments.CTACopyKey)
	assert.Equal(t, []string{"control"}, cfg.Experiments.Variants)
	assert.Equal(t, 2*time.Minute, cfg.Events.RedeliverAfter())
	assert.Equal(t, time.Minute, cfg.Events.RecoveryInterval())
	assert.Equal(t, 10, cfg.Events.MaxRedeliveries)

	require.Len(t, cfg.Automation.Rules, 1)
	rule := cfg.Automation.Rules[0]
	assert.Equal(t, domain.EventListenClick, rule.EventType)
	assert.Equal(t, "listen_followup", rule.ActionType)
	assert.Equal(t, 7*time.Minute, rule.Delay())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: "file:6379"
auth:
  api_keys:
    from-file: alice
`)

	t.Setenv("DATABASE_URL", "postgres://env/fans")
	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("SQS_EVENTS_QUEUE_URL", "https://sqs.us-west-2.amazonaws.com/1/events")
	t.Setenv("AUTOMATION_MAX_ATTEMPTS", "9")
	t.Setenv("ADMIN_API_KEYS", "k2:bob, bad-pair ,k3:carol")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "postgres://env/fans", cfg.Database.URL)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/1/events", cfg.Events.SQS.QueueURL)
	assert.Equal(t, 9, cfg.Automation.MaxAttempts)
	assert.Equal(t, map[string]string{"from-file": "alice", "k2": "bob", "k3": "carol"}, cfg.Auth.APIKeys)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestExportInterval(t *testing.T) {
	cfg := ExportConfig{IntervalMinutes: 15}
	assert.Equal(t, 15*time.Minute, cfg.Interval())
}

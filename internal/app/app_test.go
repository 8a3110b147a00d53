package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/config"
	"github.com/ignite/fan-automation/internal/domain"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryWiring(t *testing.T) {
	cfg := loadConfig(t, "storage:\n  type: memory\n")
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)

	err = a.Pipeline.Handle(ctx, domain.Event{
		ID:          "e1",
		Type:        domain.EventListenClick,
		SubjectID:   "S1",
		AnonymousID: "A1",
		Timestamp:   time.Now().UTC(),
		Attributes:  map[string]string{domain.AttrPlatform: "spotify"},
	})
	require.NoError(t, err)

	actions, total, err := a.Scheduler.List(ctx, domain.ActionFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "listen_followup", actions[0].ActionType)
	assert.Equal(t, domain.ActionPending, actions[0].Status)

	n, err := a.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_UnknownStorage(t *testing.T) {
	cfg := loadConfig(t, "storage:\n  type: cassandra\n")
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestSchedulerConfig(t *testing.T) {
	cfg := loadConfig(t, `
automation:
  max_attempts: 3
  backoff_base_seconds: 10
  rules:
    - event_type: subscribe_submit
      action_type: welcome
      delay_seconds: 60
`)
	sc := schedulerConfig(cfg.Automation)
	require.Len(t, sc.Rules, 1)
	assert.Equal(t, domain.EventSubscribeSubmit, sc.Rules[0].EventType)
	assert.Equal(t, time.Minute, sc.Rules[0].Delay)
	assert.Equal(t, 3, sc.MaxAttempts)
	assert.Equal(t, 10*time.Second, sc.BackoffBase)
	assert.Equal(t, time.Hour, sc.BackoffMax)
}

func TestExporter_LocalFallback(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, "storage:\n  type: memory\nexport:\n  local_dir: "+dir+"\n")
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Events.Append(ctx, domain.Event{Type: domain.EventProfileView, SubjectID: "S1", AnonymousID: "A1"})
	require.NoError(t, err)

	exp, err := a.Exporter(ctx)
	require.NoError(t, err)
	now := time.Now().UTC()
	key, err := exp.ExportWindow(ctx, now.Add(-time.Hour), now.Add(time.Minute))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, key))
	assert.NoError(t, err)
}

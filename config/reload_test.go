package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestReloader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "log:\n  level: info\n", time.Now().Add(-time.Hour))

	current, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	r := NewReloader(NewLoader(), path, current, 10*time.Millisecond, zap.NewNop())
	var oldLevel, newLevel atomic.Value
	r.OnReload(func(o, n *Config) {
		oldLevel.Store(o.Log.Level)
		newLevel.Store(n.Log.Level)
	})

	writeConfig(t, path, "log:\n  level: debug\n", time.Now())
	require.NoError(t, r.Reload())

	assert.Equal(t, "info", oldLevel.Load())
	assert.Equal(t, "debug", newLevel.Load())
	assert.Equal(t, "debug", r.Current().Log.Level)
}

func TestReloader_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "log:\n  level: info\n", time.Now().Add(-time.Hour))
	current := DefaultConfig()

	r := NewReloader(NewLoader(), path, current, 10*time.Millisecond, zap.NewNop())
	called := false
	r.OnReload(func(_, _ *Config) { called = true })

	writeConfig(t, path, "log:\n  level: loud\n", time.Now())
	assert.Error(t, r.Reload())
	assert.False(t, called)
	assert.Same(t, current, r.Current())
}

func TestReloader_PollsForChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "bus:\n  buffer_size: 16\n", time.Now().Add(-time.Hour))

	r := NewReloader(NewLoader(), path, DefaultConfig(), 10*time.Millisecond, zap.NewNop())
	reloaded := make(chan int, 1)
	r.OnReload(func(_, n *Config) {
		select {
		case reloaded <- n.Bus.BufferSize:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	writeConfig(t, path, "bus:\n  buffer_size: 32\n", time.Now())

	select {
	case size := <-reloaded:
		assert.Equal(t, 32, size)
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not picked up")
	}
}

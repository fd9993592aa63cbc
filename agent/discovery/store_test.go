package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/internal/cache"
)

func newCacheStore(t *testing.T) *CacheHealthStore {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	m, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return NewCacheHealthStore(m, "test:", time.Minute)
}

func TestHealthStores(t *testing.T) {
	stores := map[string]HealthStore{
		"memory": NewInMemoryHealthStore(),
		"cache":  newCacheStore(t),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.LoadHealth(ctx, "echo")
			assert.True(t, errors.Is(err, ErrHealthNotFound))

			rec := HealthRecord{Agent: "echo", Healthy: true, CheckedAt: time.Now().UTC().Truncate(time.Millisecond), Latency: 3 * time.Millisecond}
			require.NoError(t, store.SaveHealth(ctx, rec))

			got, err := store.LoadHealth(ctx, "echo")
			require.NoError(t, err)
			assert.Equal(t, rec.Healthy, got.Healthy)
			assert.Equal(t, rec.Latency, got.Latency)
			assert.True(t, rec.CheckedAt.Equal(got.CheckedAt))

			require.NoError(t, store.DeleteHealth(ctx, "echo"))
			_, err = store.LoadHealth(ctx, "echo")
			assert.ErrorIs(t, err, ErrHealthNotFound)

			assert.Error(t, store.SaveHealth(ctx, HealthRecord{}))
		})
	}
}

func TestRegistry_MirrorsAndRestoresHealth(t *testing.T) {
	store := newCacheStore(t)
	reg := NewRegistry(DefaultRegistryConfig(), zap.NewNop(), WithHealthStore(store))
	_ = reg.Register(newAgent(t, "echo", &toggleLogic{}, 3))

	ctx := context.Background()
	_, err := reg.ProbeOne(ctx, "echo")
	require.NoError(t, err)

	saved, err := store.LoadHealth(ctx, "echo")
	require.NoError(t, err)
	assert.True(t, saved.Healthy)

	// 新进程：从外部存储恢复健康表
	fresh := NewRegistry(DefaultRegistryConfig(), zap.NewNop(), WithHealthStore(store))
	_ = fresh.Register(newAgent(t, "echo", &toggleLogic{}, 3))
	_ = fresh.Register(newAgent(t, "other", &toggleLogic{}, 3))
	require.NoError(t, fresh.Restore(ctx))
	assert.Equal(t, []string{"echo"}, fresh.ListHealthy())

	fresh.Unregister("echo")
	_, err = store.LoadHealth(ctx, "echo")
	assert.ErrorIs(t, err, ErrHealthNotFound)
}

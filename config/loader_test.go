// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 服务器
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 100.0, cfg.Server.RateLimitRPS)

	// Agent 与注册表
	assert.Equal(t, 30*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, 5, cfg.Agent.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Registry.HealthCheckInterval)
	assert.Equal(t, "ping", cfg.Registry.ProbeTask)
	assert.True(t, cfg.Registry.ResetOnRecovery)

	// 总线与工作流
	assert.Equal(t, 256, cfg.Bus.BufferSize)
	assert.Equal(t, 10*time.Minute, cfg.Workflow.Retention)
	assert.Equal(t, "*", cfg.Workflow.ProgressRecipient)

	// 存储
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "orchestra:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "workflow_executions", cfg.Mongo.Collection)

	// 日志
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.JWT.Enabled())

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

agent:
  timeout: 5s
  max_retries: 2
  failure_threshold: 3

registry:
  health_check_interval: 10s
  reset_on_recovery: false

workflow:
  retention: 1m
  progress_recipient: progress

store:
  type: sql

database:
  driver: sqlite
  name: orchestra.db

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, 5*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, 2, cfg.Agent.MaxRetries)
	assert.Equal(t, 3, cfg.Agent.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Registry.HealthCheckInterval)
	assert.False(t, cfg.Registry.ResetOnRecovery)
	assert.Equal(t, "progress", cfg.Workflow.ProgressRecipient)
	assert.Equal(t, "sql", cfg.Store.Type)
	assert.Equal(t, "orchestra.db", cfg.Database.DSN())
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "ping", cfg.Registry.ProbeTask)
	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("ORCHESTRA_SERVER_HTTP_PORT", "7777")
	t.Setenv("ORCHESTRA_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ORCHESTRA_AGENT_RETRY_BACKOFF", "250ms")
	t.Setenv("ORCHESTRA_REGISTRY_RESET_ON_RECOVERY", "false")
	t.Setenv("ORCHESTRA_SERVER_RATE_LIMIT_RPS", "12.5")
	t.Setenv("ORCHESTRA_REDIS_ADDR", "env-redis:6379")
	t.Setenv("ORCHESTRA_JWT_SECRET", "s3cret")
	t.Setenv("ORCHESTRA_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.RetryBackoff)
	assert.False(t, cfg.Registry.ResetOnRecovery)
	assert.Equal(t, 12.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.JWT.Enabled())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\nbus:\n  buffer_size: 64\n"), 0o644))

	t.Setenv("ORCHESTRA_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 64, cfg.Bus.BufferSize)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("ORCHESTRA_AGENT_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORCHESTRA_AGENT_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("ORCHESTRA_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = -1 }, wantErr: "invalid HTTP port"},
		{name: "negative retries", mutate: func(c *Config) { c.Agent.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "zero buffer", mutate: func(c *Config) { c.Bus.BufferSize = 0 }, wantErr: "buffer_size"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Type = "etcd" }, wantErr: `unknown store.type "etcd"`},
		{name: "sql needs driver", mutate: func(c *Config) {
			c.Store.Type = "sql"
			c.Database.Driver = "oracle"
		}, wantErr: "unsupported database driver"},
		{name: "mongo needs uri", mutate: func(c *Config) {
			c.Store.Type = "mongo"
			c.Mongo.URI = ""
		}, wantErr: "mongo.uri"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "orch", SSLMode: "disable",
			},
			expected: "host=db port=5432 user=u password=p dbname=orch sslmode=disable",
		},
		{
			name:     "mysql",
			config:   DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "orch"},
			expected: "u:p@tcp(db:3306)/orch?parseTime=true",
		},
		{
			name:     "sqlite",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/tmp/orch.db"},
			expected: "/tmp/orch.db",
		},
		{
			name:     "unknown",
			config:   DatabaseConfig{Driver: "oracle"},
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestMustLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8181\n"), 0o644))

	cfg := MustLoad(configPath)
	assert.Equal(t, 8181, cfg.Server.HTTPPort)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o644))
	assert.Panics(t, func() { MustLoad(bad) })
}

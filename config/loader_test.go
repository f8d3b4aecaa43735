// 配置加载、校验与 DSN 构造测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig 把 YAML 内容写进临时目录并返回文件路径
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// envFromMap 构造一个只认识给定键值的环境查找函数
func envFromMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 端口不冲突，超时全部非零
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 100, cfg.Server.RateLimitRPS)

	// 调度默认严格绑定专属账户
	assert.True(t, cfg.Scheduler.StrictDedicatedBinding)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.SelectionTimeout)

	// 存储侧默认本地 Redis + Postgres
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Zero(t, cfg.Redis.DB)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	// 日志默认 info 级 JSON
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_LoadDefaults(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = envFromMap(nil) // 隔离宿主机环境变量

	cfg, err := l.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 18080
  read_timeout: 45s
  service_tokens:
    - "relay-token-1"
  tls_enabled: true
  tls_cert_file: "/etc/relaypool/tls/server.crt"
  tls_key_file: "/etc/relaypool/tls/server.key"

scheduler:
  strict_dedicated_binding: false
  selection_timeout: 80ms

redis:
  addr: "cache-0.internal:6379"
  password: "s3cr3t-pw"
  db: 2
  pool_size: 32

database:
  driver: "sqlite"
  name: "relaypool.db"

log:
  level: "warn"
  format: "console"
`)

	l := NewLoader().WithConfigPath(path)
	l.lookupEnv = envFromMap(nil)

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 18080, cfg.Server.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"relay-token-1"}, cfg.Server.ServiceTokens)
	assert.True(t, cfg.Server.TLSEnabled)
	assert.Equal(t, "/etc/relaypool/tls/server.crt", cfg.Server.TLSCertFile)
	assert.Equal(t, "/etc/relaypool/tls/server.key", cfg.Server.TLSKeyFile)

	assert.False(t, cfg.Scheduler.StrictDedicatedBinding)
	assert.Equal(t, 80*time.Millisecond, cfg.Scheduler.SelectionTimeout)

	assert.Equal(t, "cache-0.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "s3cr3t-pw", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 32, cfg.Redis.PoolSize)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "relaypool.db", cfg.Database.Name)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未出现在 YAML 中的字段保持默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoader_EnvOverridesDefaults(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = envFromMap(map[string]string{
		"RELAYPOOL_SERVER_HTTP_PORT":                   "17070",
		"RELAYPOOL_SCHEDULER_STRICT_DEDICATED_BINDING": "false",
		"RELAYPOOL_SCHEDULER_SELECTION_TIMEOUT":        "120ms",
		"RELAYPOOL_REDIS_ADDR":                         "redis-env.internal:6379",
		"RELAYPOOL_DATABASE_DRIVER":                    "mysql",
		"RELAYPOOL_LOG_LEVEL":                          "error",
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 17070, cfg.Server.HTTPPort)
	assert.False(t, cfg.Scheduler.StrictDedicatedBinding)
	assert.Equal(t, 120*time.Millisecond, cfg.Scheduler.SelectionTimeout)
	assert.Equal(t, "redis-env.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 18080
log:
  level: "debug"
`)

	// 走真实的 os.LookupEnv，确认默认查找路径读的是进程环境
	t.Setenv("RELAYPOOL_SERVER_HTTP_PORT", "19090")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// 环境变量优先于 YAML，YAML 仍然优先于默认值
	assert.Equal(t, 19090, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_EmptyEnvValueIgnored(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = envFromMap(map[string]string{
		"RELAYPOOL_REDIS_ADDR": "",
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	// 空字符串视为未设置，不清掉默认地址
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoader_MalformedEnvValue(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = envFromMap(map[string]string{
		"RELAYPOOL_SERVER_HTTP_PORT": "not-a-number",
	})

	_, err := l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAYPOOL_SERVER_HTTP_PORT")
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	l := NewLoader().WithConfigPath("/nonexistent/config.yaml")
	l.lookupEnv = envFromMap(nil)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Run("validator runs after load", func(t *testing.T) {
		var seen *Config
		l := NewLoader().WithValidator(func(c *Config) error {
			seen = c
			return nil
		})
		l.lookupEnv = envFromMap(nil)

		cfg, err := l.Load()
		require.NoError(t, err)
		assert.Same(t, cfg, seen)
	})

	t.Run("validator error aborts load", func(t *testing.T) {
		wantErr := errors.New("http_port out of range")
		l := NewLoader().WithValidator(func(*Config) error { return wantErr })
		l.lookupEnv = envFromMap(nil)

		_, err := l.Load()
		assert.ErrorIs(t, err, wantErr)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"port collision", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, true},
		{"bad selection timeout", func(c *Config) { c.Scheduler.SelectionTimeout = 0 }, true},
		{"bad database driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"tls without cert files", func(c *Config) { c.Server.TLSEnabled = true }, true},
		{"tls with cert files", func(c *Config) {
			c.Server.TLSEnabled = true
			c.Server.TLSCertFile = "/etc/relaypool/tls/server.crt"
			c.Server.TLSKeyFile = "/etc/relaypool/tls/server.key"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				User: "u", Password: "p", Name: "relaypool", SSLMode: "disable",
			},
			want: "host=db port=5432 user=u password=p dbname=relaypool sslmode=disable",
		},
		{
			name: "mysql",
			cfg: DatabaseConfig{
				Driver: "mysql", Host: "db", Port: 3306,
				User: "u", Password: "p", Name: "relaypool",
			},
			want: "u:p@tcp(db:3306)/relaypool?parseTime=true",
		},
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Name: "relaypool.db"},
			want: "relaypool.db",
		},
		{
			name: "unknown driver",
			cfg:  DatabaseConfig{Driver: "oracle"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

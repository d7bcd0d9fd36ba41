package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ROOT_SECRET", "root")
}

func TestLoadFromEnvironmentWithoutFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STATE_BACKEND", "memory")
	t.Setenv("LOCK_TTL", "30s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "secret", cfg.JWT.SigningKey)
	assert.Equal(t, "xchacha20poly1305", cfg.Transport.CipherSuite)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_REDIS_HOST", "redis.internal")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  redis:
    host: localhost
transport:
  cipher_suite: cbc
ratelimit:
  socket:
    limit: 5
    window: 1s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "redis.internal", cfg.Database.Redis.Host)
	assert.Equal(t, "cbc", cfg.Transport.CipherSuite)
	assert.Equal(t, 5, cfg.RateLimit.Socket.Limit)
	assert.Equal(t, time.Second, cfg.RateLimit.Socket.Window)
	assert.Equal(t, "redis", cfg.State.Backend)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			State:     StateConfig{Backend: "memory"},
			JWT:       JWTConfig{SigningKey: "k"},
			Telegram:  TelegramConfig{BotToken: "b", RootSecret: "r"},
			Lock:      LockConfig{TTL: time.Second, PollInterval: time.Millisecond},
			Transport: TransportConfig{CipherSuite: "cbc"},
			Sync:      SyncConfig{Channel: "config_changes"},
			RateLimit: RateLimitConfig{
				HTTP:          WindowConfig{Limit: 60, Window: time.Minute},
				Socket:        WindowConfig{Limit: 30, Window: 10 * time.Second},
				SweepInterval: time.Minute,
			},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"missing signing key": func(c *Config) { c.JWT.SigningKey = "" },
		"redis without host":  func(c *Config) { c.State.Backend = "redis" },
		"unknown backend":     func(c *Config) { c.State.Backend = "mongo" },
		"unknown suite":       func(c *Config) { c.Transport.CipherSuite = "rot13" },
		"bad channel":         func(c *Config) { c.Sync.Channel = "drop table;" },
		"zero lock ttl":       func(c *Config) { c.Lock.TTL = 0 },
		"zero sweep interval": func(c *Config) { c.RateLimit.SweepInterval = 0 },
		"negative sweep":      func(c *Config) { c.RateLimit.SweepInterval = -time.Second },
		"zero http window":    func(c *Config) { c.RateLimit.HTTP.Window = 0 },
		"zero socket window":  func(c *Config) { c.RateLimit.Socket.Window = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

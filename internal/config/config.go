package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	State     StateConfig     `mapstructure:"state"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Lock      LockConfig      `mapstructure:"lock"`
	Transport TransportConfig `mapstructure:"transport"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sync      SyncConfig      `mapstructure:"sync"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DB              string        `mapstructure:"db"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"` // "redis" | "memory"
}

type JWTConfig struct {
	SigningKey     string        `mapstructure:"signing_key"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	RootSecret    string        `mapstructure:"root_secret"`
	RequestMaxAge time.Duration `mapstructure:"request_max_age"`
}

type LockConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Notify       bool          `mapstructure:"notify"`
}

type TransportConfig struct {
	CipherSuite  string        `mapstructure:"cipher_suite"` // "xchacha20poly1305" | "cbc"
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RateLimitConfig struct {
	HTTP          WindowConfig  `mapstructure:"http"`
	Socket        WindowConfig  `mapstructure:"socket"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type WindowConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type SyncConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.graceful_shutdown_timeout", 20*time.Second)
	// Empty defaults register the keys so AutomaticEnv overrides reach Unmarshal.
	for _, key := range []string{
		"database.postgres.host", "database.postgres.db", "database.postgres.user", "database.postgres.password",
		"database.redis.host", "database.redis.password",
		"jwt.signing_key", "telegram.bot_token", "telegram.root_secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.auto_migrate", true)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("state.backend", "redis")
	v.SetDefault("jwt.issuer", "farmgate")
	v.SetDefault("jwt.access_token_ttl", time.Hour)
	v.SetDefault("telegram.request_max_age", 4*time.Second)
	v.SetDefault("lock.ttl", 15*time.Second)
	v.SetDefault("lock.poll_interval", time.Second)
	v.SetDefault("lock.notify", true)
	v.SetDefault("transport.cipher_suite", "xchacha20poly1305")
	v.SetDefault("transport.read_limit", 64*1024)
	v.SetDefault("transport.write_timeout", 10*time.Second)
	v.SetDefault("ratelimit.http.limit", 60)
	v.SetDefault("ratelimit.http.window", time.Minute)
	v.SetDefault("ratelimit.socket.limit", 30)
	v.SetDefault("ratelimit.socket.window", 10*time.Second)
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.channel", "config_changes")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "--webapp-init", "--webapp-hash"})
	v.SetDefault("cors.max_age", 12*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config.yaml, overlays environment variables, and returns Config.
// A missing file is tolerated when every required value comes from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variable override: DATABASE_REDIS_HOST -> database.redis.host
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process must not start with.
func (c *Config) Validate() error {
	var missing []string
	if c.JWT.SigningKey == "" {
		missing = append(missing, "jwt.signing_key")
	}
	if c.Telegram.BotToken == "" {
		missing = append(missing, "telegram.bot_token")
	}
	if c.Telegram.RootSecret == "" {
		missing = append(missing, "telegram.root_secret")
	}
	if c.State.Backend == "redis" && c.Database.Redis.Host == "" {
		missing = append(missing, "database.redis.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.State.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	switch c.Transport.CipherSuite {
	case "xchacha20poly1305", "cbc":
	default:
		return fmt.Errorf("unknown transport cipher suite %q", c.Transport.CipherSuite)
	}
	if !channelPattern.MatchString(c.Sync.Channel) {
		return fmt.Errorf("invalid sync channel %q", c.Sync.Channel)
	}
	if c.Lock.TTL <= 0 || c.Lock.PollInterval <= 0 {
		return errors.New("lock.ttl and lock.poll_interval must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return errors.New("ratelimit.sweep_interval must be positive")
	}
	if c.RateLimit.HTTP.Window <= 0 || c.RateLimit.Socket.Window <= 0 {
		return errors.New("ratelimit.http.window and ratelimit.socket.window must be positive")
	}
	return nil
}

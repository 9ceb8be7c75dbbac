package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Callbacks CallbackConfig  `mapstructure:"callbacks"`
	Live      LiveConfig      `mapstructure:"live"`
	Sessions  SessionConfig   `mapstructure:"sessions"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retention RetentionConfig `mapstructure:"retention"`

	v *viper.Viper
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MockPrefix   string        `mapstructure:"mock_prefix" validate:"required,startswith=/"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type CallbackConfig struct {
	Workers       int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize     int           `mapstructure:"queue_size" validate:"gte=1"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	SigningSecret string        `mapstructure:"signing_secret"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type LiveConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	Fanout       int           `mapstructure:"fanout" validate:"gte=1"`
}

type SessionConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=memory redis"`
	TTL             time.Duration `mapstructure:"ttl" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type RetentionConfig struct {
	LogTTL   time.Duration `mapstructure:"log_ttl" validate:"gte=0"`
	Interval time.Duration `mapstructure:"interval"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mocklab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mocklab")
	}

	setDefaults(v)

	v.SetEnvPrefix("MOCKLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges plus the driver-specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Driver == "postgres" && c.Storage.Postgres.URL == "" {
		return errors.New("invalid config: storage.postgres.url is required for the postgres driver")
	}
	if c.Sessions.Driver == "redis" && c.Sessions.Redis.URL == "" {
		return errors.New("invalid config: sessions.redis.url is required for the redis driver")
	}
	return nil
}

// Watch re-reads the config file on change and hands the new value to fn.
// Invalid edits are reported through onErr and otherwise ignored.
func (c *Config) Watch(fn func(*Config), onErr func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(next)
	})
	c.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.mock_prefix", "/api")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/mocklab.db")
	v.SetDefault("storage.postgres.url", "")

	v.SetDefault("callbacks.workers", 16)
	v.SetDefault("callbacks.queue_size", 1024)
	v.SetDefault("callbacks.timeout", 30*time.Second)
	v.SetDefault("callbacks.signing_secret", "")
	v.SetDefault("callbacks.user_agent", "MockLab/1.0")

	v.SetDefault("live.write_timeout", 5*time.Second)
	v.SetDefault("live.fanout", 8)

	v.SetDefault("sessions.driver", "memory")
	v.SetDefault("sessions.ttl", 24*time.Hour)
	v.SetDefault("sessions.cleanup_interval", 10*time.Minute)
	v.SetDefault("sessions.redis.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("retention.log_ttl", time.Duration(0))
	v.SetDefault("retention.interval", time.Hour)
}

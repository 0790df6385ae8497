package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AuthConfig struct {
	Secret        string        `mapstructure:"secret"`
	Issuer        string        `mapstructure:"issuer"`
	SessionSecret string        `mapstructure:"session_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	// QueueWait bounds how long an accepted operation waits for room in the
	// persistence queue before it is dropped from persistence.
	QueueWait time.Duration `mapstructure:"queue_wait"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type FieldsConfig struct {
	List   []string `mapstructure:"list"`
	Recipe []string `mapstructure:"recipe"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	RoomGracePeriod time.Duration `mapstructure:"room_grace_period"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	EchoOriginator  bool          `mapstructure:"echo_originator"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`

	Auth   AuthConfig   `mapstructure:"auth"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Rate   RateConfig   `mapstructure:"rate"`
	Fields FieldsConfig `mapstructure:"fields"`
	Log    LogConfig    `mapstructure:"log"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_queue_size", 64)
	v.SetDefault("room_grace_period", "30s")
	v.SetDefault("sweep_interval", "10s")
	v.SetDefault("echo_originator", false)
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "collabhub")
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "collab:")
	v.SetDefault("redis.queue_wait", time.Second)

	v.SetDefault("rate.limit", 50)
	v.SetDefault("rate.interval", "1s")

	v.SetDefault("fields.list", []string{"title", "items", "order"})
	v.SetDefault("fields.recipe", []string{"title", "description", "ingredients", "steps", "servings", "notes", "order"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults; COLLAB_*
// environment variables override both. v may carry bound command line flags.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("redis", cfg.Redis.Enabled).Msg("config ready")
	return &cfg, nil
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.SendQueueSize <= 0:
		return fmt.Errorf("%w: send_queue_size must be positive", ErrInvalid)
	case c.IdleTimeout <= 0:
		return fmt.Errorf("%w: idle_timeout must be positive", ErrInvalid)
	case c.PingPeriod <= 0 || c.PingPeriod >= c.IdleTimeout:
		return fmt.Errorf("%w: ping_period must be positive and below idle_timeout", ErrInvalid)
	case c.RoomGracePeriod < 0:
		return fmt.Errorf("%w: room_grace_period is negative", ErrInvalid)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalid)
	case c.Redis.QueueWait < 0:
		return fmt.Errorf("%w: redis.queue_wait is negative", ErrInvalid)
	case c.Auth.Secret == "":
		return fmt.Errorf("%w: auth.secret is required", ErrInvalid)
	}
	return nil
}

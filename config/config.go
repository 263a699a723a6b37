package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CARDDUEL_SERVER_HTTP_ADDRESS.
const EnvPrefix = "CARDDUEL"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Game      GameConfig      `mapstructure:"game"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	GRPCAddress    string `mapstructure:"grpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	PublicURL      string `mapstructure:"public_url"`
}

type GameConfig struct {
	TurnTimeout             time.Duration `mapstructure:"turn_timeout"`
	NewTurnDelay            time.Duration `mapstructure:"new_turn_delay"`
	RoomIdleTimeout         time.Duration `mapstructure:"room_idle_timeout"`
	DefaultMaxTurns         int           `mapstructure:"default_max_turns"`
	MaxTurnsLimit           int           `mapstructure:"max_turns_limit"`
	SinglePlayerMaxAttempts int           `mapstructure:"single_player_max_attempts"`
	SinglePlayerTTL         time.Duration `mapstructure:"single_player_ttl"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type RateLimitConfig struct {
	BaseCooldown      time.Duration `mapstructure:"base_cooldown"`
	PenaltyCooldown   time.Duration `mapstructure:"penalty_cooldown"`
	StrikeWindow      time.Duration `mapstructure:"strike_window"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	MessageBurst      int           `mapstructure:"message_burst"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // none | sqlite | postgres | gorm
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// DSN is the lib/pq style connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DBName)
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.grpc_address", ":8082")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.public_url", "http://localhost:8080")

	v.SetDefault("game.turn_timeout", 30*time.Second)
	v.SetDefault("game.new_turn_delay", 2*time.Second)
	v.SetDefault("game.room_idle_timeout", 10*time.Minute)
	v.SetDefault("game.default_max_turns", 15)
	v.SetDefault("game.max_turns_limit", 50)
	v.SetDefault("game.single_player_max_attempts", 15)
	v.SetDefault("game.single_player_ttl", 30*time.Minute)

	v.SetDefault("catalog.path", "")

	v.SetDefault("ratelimit.base_cooldown", 5*time.Second)
	v.SetDefault("ratelimit.penalty_cooldown", 15*time.Second)
	v.SetDefault("ratelimit.strike_window", 60*time.Second)
	v.SetDefault("ratelimit.messages_per_second", 10.0)
	v.SetDefault("ratelimit.message_burst", 20)

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.sqlite.path", "cardduel.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "cardduel")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// New returns a viper instance with defaults and env overrides installed.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and unmarshals the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddress == "" {
		errs = append(errs, errors.New("server.http_address is required"))
	}
	if c.Game.TurnTimeout <= 0 {
		errs = append(errs, errors.New("game.turn_timeout must be positive"))
	}
	if c.Game.NewTurnDelay < 0 {
		errs = append(errs, errors.New("game.new_turn_delay must not be negative"))
	}
	if c.Game.MaxTurnsLimit < 1 {
		errs = append(errs, errors.New("game.max_turns_limit must be at least 1"))
	}
	if c.Game.DefaultMaxTurns < 1 || c.Game.DefaultMaxTurns > c.Game.MaxTurnsLimit {
		errs = append(errs, fmt.Errorf("game.default_max_turns must be between 1 and %d", c.Game.MaxTurnsLimit))
	}
	if c.Game.SinglePlayerMaxAttempts < 1 {
		errs = append(errs, errors.New("game.single_player_max_attempts must be at least 1"))
	}
	if c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.MessageBurst < 1 {
		errs = append(errs, errors.New("ratelimit.messages_per_second and ratelimit.message_burst must be positive"))
	}
	switch c.Database.Driver {
	case "none", "sqlite", "postgres", "gorm":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of none, sqlite, postgres, gorm", c.Database.Driver))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

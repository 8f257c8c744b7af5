package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures the server runtime parameters.
type Config struct {
	Port            string        `mapstructure:"port"`
	DatabaseDriver  string        `mapstructure:"database_driver"`
	DatabaseURL     string        `mapstructure:"database_url"`
	RedisURL        string        `mapstructure:"redis_url"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	JWTTTL          time.Duration `mapstructure:"jwt_ttl"`
	LogLevel        string        `mapstructure:"log_level"`
	DefaultRoom     string        `mapstructure:"default_room"`
	MessagesPerPage int           `mapstructure:"messages_per_page"`
	InitialPages    int           `mapstructure:"initial_pages"`
	RotationWorkers int           `mapstructure:"rotation_workers"`
	// AllowedOrigins limits websocket upgrades by Origin header. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

const (
	defaultPort            = "8080"
	defaultDatabaseDriver  = "postgres"
	defaultJWTTTL          = 24 * time.Hour
	defaultLogLevel        = "info"
	defaultRoom            = "lobby"
	defaultMessagesPerPage = 50
	defaultInitialPages    = 1
	defaultRotationWorkers = 8
)

var keys = []string{
	"port", "database_driver", "database_url", "redis_url", "jwt_secret", "jwt_ttl",
	"log_level", "default_room", "messages_per_page", "initial_pages", "rotation_workers",
	"allowed_origins",
}

// Load reads .env files, the optional YAML file at path and the environment, in
// increasing order of precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetDefault("port", defaultPort)
	v.SetDefault("database_driver", defaultDatabaseDriver)
	v.SetDefault("jwt_ttl", defaultJWTTTL.String())
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("default_room", defaultRoom)
	v.SetDefault("messages_per_page", defaultMessagesPerPage)
	v.SetDefault("initial_pages", defaultInitialPages)
	v.SetDefault("rotation_workers", defaultRotationWorkers)

	v.AutomaticEnv()
	// AutomaticEnv only answers Get; Unmarshal needs every key bound explicitly.
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the keys that have no sensible default.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.MessagesPerPage <= 0 || c.InitialPages <= 0 {
		errs = append(errs, errors.New("MESSAGES_PER_PAGE and INITIAL_PAGES must be positive"))
	}
	return errors.Join(errs...)
}

// PageSize is the number of messages returned by a history request.
func (c Config) PageSize() int {
	return c.MessagesPerPage * c.InitialPages
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	if c.Port == "" {
		return ":" + defaultPort
	}
	return ":" + c.Port
}

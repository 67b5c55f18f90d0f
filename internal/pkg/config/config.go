package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Port         string `env:"PORT,          default=8080"`
	Env          string `env:"ENV,           default=development"`
	LogLevel     string `env:"LOG_LEVEL,     default=info"`
	LogFile      string `env:"LOG_FILE"`
	CookieSecure bool   `env:"COOKIE_SECURE, default=false"`

	Auth    AuthConfig
	Storage StorageConfig
	Mongo   MongoConfig
	Redis   RedisConfig
}

type AuthConfig struct {
	JWTSecret   string        `env:"JWT_SECRET"`
	SessionTTL  time.Duration `env:"SESSION_TTL,       default=24h"`
	InitTimeout time.Duration `env:"AUTH_INIT_TIMEOUT, default=5s"`
	SignInPath  string        `env:"SIGN_IN_PATH,      default=/auth"`
	// SessionFile is where the shell keeps its session between runs.
	SessionFile string `env:"SESSION_FILE, default=.portal/session.json"`
}

type StorageConfig struct {
	Driver      string `env:"STORAGE_DRIVER, default=postgres"`
	DatabaseURL string `env:"DATABASE_URL,   default=postgres://localhost:5432/portal?sslmode=disable"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=portal"`
}

type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr     string `env:"REDIS_ADDR, default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,   default=0"`
	PoolSize int    `env:"REDIS_POOL_SIZE, default=10"`
}

// Load reads a .env file when present, then the environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMongo, DriverPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" && c.Env == "production" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// Pretty reports whether logs should be human readable.
func (c *Config) Pretty() bool {
	return c.Env != "production"
}

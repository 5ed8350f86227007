package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_PORT"` name the environment variable and
// `default:""` supplies the value used when it is unset.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"` // text or json
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Storage    StorageConfig
	Postgres   PostgresConfig
	Cart       CartConfig
	Redis      RedisConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port            string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead     time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite    time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle     time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port       string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
	Reflection bool   `envconfig:"GRPC_SERVER_REFLECTION" default:"true"`
}

// StorageConfig selects the product store.
type StorageConfig struct {
	Backend string `envconfig:"STORAGE_BACKEND" default:"memory"` // memory or postgres
}

// PostgresConfig holds PostgreSQL connection details. They are only
// required when the postgres backend is selected.
type PostgresConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST"`
	Port            string        `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER"`
	Password        string        `envconfig:"POSTGRES_PASSWORD"`
	DBName          string        `envconfig:"POSTGRES_DBNAME"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// CartConfig holds cart pricing and session settings.
type CartConfig struct {
	TaxRate               decimal.Decimal `envconfig:"CART_TAX_RATE" default:"0.08"`
	Currency              string          `envconfig:"CART_CURRENCY" default:"USD"`
	SessionBackend        string          `envconfig:"CART_SESSION_BACKEND" default:"memory"` // memory or redis
	SessionTTL            time.Duration   `envconfig:"CART_SESSION_TTL" default:"24h"`
	RevalidateConcurrency int             `envconfig:"CART_REVALIDATE_CONCURRENCY" default:"4"`

	// CurrencyUnit is Currency parsed by Load.
	CurrencyUnit currency.Unit `ignored:"true"`
}

// RedisConfig holds Redis connection details for the redis session backend.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

// Load reads the configuration from environment variables and checks the
// rules that span more than one field.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		for name, v := range map[string]string{
			"POSTGRES_HOST":   c.Postgres.Host,
			"POSTGRES_USER":   c.Postgres.User,
			"POSTGRES_DBNAME": c.Postgres.DBName,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s is required for the postgres backend", name))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q is not one of memory, postgres", c.Storage.Backend))
	}

	c.Cart.SessionBackend = strings.ToLower(c.Cart.SessionBackend)
	switch c.Cart.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("CART_SESSION_BACKEND %q is not one of memory, redis", c.Cart.SessionBackend))
	}

	if c.Cart.TaxRate.IsNegative() {
		errs = append(errs, errors.New("CART_TAX_RATE must not be negative"))
	}
	unit, err := currency.ParseISO(c.Cart.Currency)
	if err != nil {
		errs = append(errs, fmt.Errorf("CART_CURRENCY %q: %w", c.Cart.Currency, err))
	}
	c.Cart.CurrencyUnit = unit

	if c.Cart.RevalidateConcurrency <= 0 {
		errs = append(errs, errors.New("CART_REVALIDATE_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

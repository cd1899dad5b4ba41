package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// RedisConfig configures the optional change feed.
type RedisConfig struct {
	Enabled         bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host            string `env:"REDIS_HOST" envDefault:"localhost"`
	Port            string `env:"REDIS_PORT" envDefault:"6379"`
	Password        string `env:"REDIS_PASSWORD"`
	Database        int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize        int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	StreamPrefix    string `env:"REDIS_STREAM_PREFIX" envDefault:"docgateway:changes"`
	StreamMaxLength int64  `env:"REDIS_STREAM_MAX_LENGTH" envDefault:"10000"`
}

// GetAddr returns host:port.
func (r RedisConfig) GetAddr() string {
	return r.Host + ":" + r.Port
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" envDefault:"localhost"`
	Port         string        `env:"SERVER_PORT" envDefault:"3000"`
	BodyLimitMB  int           `env:"SERVER_BODY_LIMIT_MB" envDefault:"64"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig configures application and driver logging.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"text"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	DriverLog  string `env:"LOG_DRIVER_LEVEL" envDefault:"warn"`
}

// GatewayConfig holds all configuration for the datastore module.
type GatewayConfig struct {
	ConnectionURL string `env:"MONGODB_CONN_URL"`
	UseLocalDB    bool   `env:"USE_LOCAL_DB" envDefault:"false"`
	LocalHost     string `env:"LOCAL_DB_HOST" envDefault:"localhost"`
	LocalPort     string `env:"LOCAL_DB_PORT" envDefault:"27017"`
	LocalDatabase string `env:"LOCAL_DB_NAME" envDefault:"FH_LOCAL"`

	RetryInterval time.Duration `env:"DB_RETRY_INTERVAL" envDefault:"1s"`
	RetryLimit    int           `env:"DB_RETRY_LIMIT" envDefault:"30"`

	CollectionPrefix    string `env:"COLLECTION_PREFIX" envDefault:"fh"`
	CollectionSeparator string `env:"COLLECTION_SEPARATOR" envDefault:"_"`
	ExportConcurrency   int    `env:"EXPORT_CONCURRENCY" envDefault:"4"`

	JWTSecretKey string `env:"JWT_SECRET_KEY"`
	JWTIssuer    string `env:"JWT_ISSUER" envDefault:"docgateway"`

	Redis  RedisConfig
	Server ServerConfig
	Log    LogConfig
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*GatewayConfig, error) {
	cfg := &GatewayConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load gateway configuration from environment: %w", err)
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to load redis configuration from environment: %w", err)
	}
	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to load server configuration from environment: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to load log configuration from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultGatewayConfig returns a local, unauthenticated configuration.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		UseLocalDB:          true,
		LocalHost:           DefaultHost,
		LocalPort:           "27017",
		LocalDatabase:       "FH_LOCAL",
		RetryInterval:       time.Second,
		RetryLimit:          30,
		CollectionPrefix:    "fh",
		CollectionSeparator: "_",
		ExportConcurrency:   4,
		JWTIssuer:           "docgateway",
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            "6379",
			PoolSize:        10,
			StreamPrefix:    "docgateway:changes",
			StreamMaxLength: 10000,
		},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         "3000",
			BodyLimitMB:  64,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			DriverLog:  "warn",
		},
	}
}

// Validate checks cross-field constraints.
func (c *GatewayConfig) Validate() error {
	if !c.UseLocalDB && c.ConnectionURL == "" {
		return fmt.Errorf("MONGODB_CONN_URL is required unless USE_LOCAL_DB is set")
	}
	if c.RetryLimit <= 0 {
		return fmt.Errorf("DB_RETRY_LIMIT must be positive, got %d", c.RetryLimit)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("DB_RETRY_INTERVAL must be positive, got %s", c.RetryInterval)
	}
	if c.CollectionPrefix == "" {
		return fmt.Errorf("COLLECTION_PREFIX must not be empty")
	}
	if c.Server.BodyLimitMB <= 0 {
		c.Server.BodyLimitMB = 64
	}
	if c.ExportConcurrency <= 0 {
		c.ExportConcurrency = 1
	}
	return nil
}

// ConnectionConfig builds the shared database connection description.
func (c *GatewayConfig) ConnectionConfig() (*ConnectionConfig, error) {
	if c.UseLocalDB {
		return NewConnectionConfig(c.LocalHost, c.LocalPort, c.LocalDatabase, nil, nil)
	}
	return ParseConnectionURL(c.ConnectionURL, false)
}

// AuthEnabled reports whether bearer tokens are verified.
func (c *GatewayConfig) AuthEnabled() bool {
	return c.JWTSecretKey != ""
}

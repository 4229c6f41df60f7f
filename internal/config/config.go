package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Store    StoreConfig
	Redis    RedisConfig
	Users    UserStoreConfig
	DynamoDB DynamoDBConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	OTP      OTPConfig
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// StoreConfig selects the backend for OTP codes, cooldown markers and the
// token whitelist.
type StoreConfig struct {
	Backend string `env:"STORE_BACKEND" envDefault:"redis"`
}

type RedisConfig struct {
	Endpoint string `env:"REDIS_ENDPOINT" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type UserStoreConfig struct {
	Backend string `env:"USER_STORE" envDefault:"dynamodb"`
}

type DynamoDBConfig struct {
	Endpoint  string `env:"DYNAMODB_ENDPOINT"`
	Region    string `env:"DYNAMODB_REGION" envDefault:"us-east-1"`
	TableName string `env:"DYNAMODB_TABLE_NAME" envDefault:"BaobaoUsers"`
}

type PostgresConfig struct {
	URL string `env:"DATABASE_URL"`
}

type JWTConfig struct {
	SecretKey  string `env:"JWT_SECRET_KEY"`
	ExpireDays int    `env:"JWT_EXPIRE_DAYS" envDefault:"30"`
}

// Lifetime is the validity window of an issued session token.
func (c JWTConfig) Lifetime() time.Duration {
	return time.Duration(c.ExpireDays) * 24 * time.Hour
}

type OTPConfig struct {
	Mock     bool          `env:"SMS_MOCK" envDefault:"true"`
	Expiry   time.Duration `env:"OTP_EXPIRY" envDefault:"5m"`
	Cooldown time.Duration `env:"OTP_COOLDOWN" envDefault:"60s"`
}

const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.JWT.ExpireDays <= 0 {
		return fmt.Errorf("JWT_EXPIRE_DAYS must be positive")
	}

	if c.OTP.Expiry <= 0 || c.OTP.Cooldown <= 0 {
		return fmt.Errorf("OTP_EXPIRY and OTP_COOLDOWN must be positive")
	}

	switch c.Store.Backend {
	case BackendRedis, BackendMemory, BackendDynamoDB:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Users.Backend {
	case BackendDynamoDB, BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when USER_STORE=postgres")
		}
	default:
		return fmt.Errorf("unsupported USER_STORE %q", c.Users.Backend)
	}

	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource    string `env:"DB_SOURCE"`
	Port        string `env:"SERVER_PORT" env-default:"8080"`
	Env         string `env:"ENVIRONMENT" env-default:"development"`
	StoreDriver string `env:"STORE_DRIVER" env-default:"postgres"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" env-default:"0"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" env-default:"24h"`

	JWTSecret string `env:"JWT_SECRET"`

	LockTimeout     time.Duration `env:"LOCK_TIMEOUT" env-default:"2s"`
	StartingBalance string        `env:"STARTING_BALANCE" env-default:"1000.00"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpeningBalance is the balance every new account starts with.
func (c *Config) OpeningBalance() decimal.Decimal {
	// validate has already parsed it once.
	return decimal.RequireFromString(c.StartingBalance)
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}

	balance, err := decimal.NewFromString(c.StartingBalance)
	if err != nil {
		return fmt.Errorf("invalid STARTING_BALANCE %q: %w", c.StartingBalance, err)
	}
	if balance.IsNegative() {
		return fmt.Errorf("STARTING_BALANCE must not be negative")
	}
	if err := domain.ValidateMoney(balance); err != nil {
		return fmt.Errorf("invalid STARTING_BALANCE %q: %w", c.StartingBalance, err)
	}
	return nil
}

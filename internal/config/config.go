// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	DB DatabaseConfig

	JWTSecret string
	JWTTTL    time.Duration

	RedisAddr     string
	RedisPassword string
	NATSURL       string

	// AllowAnonymousVotes enables counter-only post/comment votes from
	// unauthenticated callers. No ledger row is written for them.
	AllowAnonymousVotes bool
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	// Driver is "pgx" (jackc/pgx stdlib) or "postgres" (lib/pq).
	Driver string
}

// DSN renders the keyword/value connection string understood by both drivers.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

func (c Config) Production() bool {
	return c.Env == "production"
}

// Load reads envFile (if present) and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Config{
		Env:      getenv("APP_ENV", "development"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		DB: DatabaseConfig{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
			Driver:   getenv("DB_DRIVER", "pgx"),
		},
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		NATSURL:       os.Getenv("NATS_URL"),
	}

	var err error
	if cfg.Port, err = strconv.Atoi(getenv("PORT", "8080")); err != nil {
		return Config{}, fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.JWTTTL, err = time.ParseDuration(getenv("JWT_TTL", "72h")); err != nil {
		return Config{}, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	if cfg.AllowAnonymousVotes, err = strconv.ParseBool(getenv("ALLOW_ANONYMOUS_VOTES", "false")); err != nil {
		return Config{}, fmt.Errorf("invalid ALLOW_ANONYMOUS_VOTES: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET required")
	}
	if c.DB.Name == "" || c.DB.User == "" {
		return errors.New("DB_NAME and DB_USER required")
	}
	switch c.DB.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want pgx or postgres)", c.DB.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

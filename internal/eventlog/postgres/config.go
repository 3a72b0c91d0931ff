// Package postgres implements eventlog.Store against PostgreSQL using
// database/sql over pgx/v5's stdlib driver and sqlx for row scanning, grounded on
// jordigilh-kubernaut/internal/database's Config shape
// (DefaultConfig/LoadFromEnv/Validate, pool-sizing fields).
package postgres

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config describes the connection pool, independent of the greeter-level
// config.Config so this package stays importable standalone (and testable
// with go-sqlmock without dragging in config).
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "greeter",
		Database:        "greeter",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// LoadFromEnv overrides c's fields from DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/
// DB_NAME/DB_SSL_MODE, leaving unset variables untouched.
func (c Config) LoadFromEnv() Config {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
	return c
}

// Validate rejects configuration that cannot produce a usable pool.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle connections must be between 0 and max open connections")
	}
	return nil
}

// DSN renders c as a libpq connection string for sql.Open("pgx", ...).
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

package database

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

const (
	defaultPort           = "5432"
	defaultSSLMode        = "disable"
	defaultMaxConnections = 10
	defaultSQLitePath     = "data/bot.db"
)

// Config holds database connection settings shared across bots.
type Config struct {
	// Driver selects the backend: "postgres", "sqlite" or "memory" (default).
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `yaml:"sqlite_path" envconfig:"DB_SQLITE_PATH"`
	// SkipMigrations leaves the schema untouched on start.
	SkipMigrations bool `yaml:"skip_migrations" envconfig:"DB_SKIP_MIGRATIONS"`
}

// Normalize fills defaults and validates the driver specific fields.
func (c *Config) Normalize() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if strings.TrimSpace(c.Host) == "" || strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("database: postgres requires host and name")
		}
		if c.Port == "" {
			c.Port = defaultPort
		}
		if c.SSLMode == "" {
			c.SSLMode = defaultSSLMode
		}
		if c.MaxConnections <= 0 {
			c.MaxConnections = defaultMaxConnections
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			c.SQLitePath = defaultSQLitePath
		}
		// one writer at a time; more connections only produce SQLITE_BUSY
		c.MaxConnections = 1
	default:
		return fmt.Errorf("database: unknown driver %q; allowed: postgres, sqlite, memory", c.Driver)
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	switch c.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Host + ":" + c.Port,
			Path:     "/" + c.Name,
			RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
		}
		return u.String()
	case DriverSQLite:
		return "file:" + c.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	return ""
}

package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// Store is everything a Warden instance reads and writes
type Store interface {
	rbac.AccountLookup
	rbac.ApplicationLookup
	rbac.EnvironmentLookup
	rbac.UserGroupProvider
	rbac.SupportUserLookup
	rbac.MembershipLookup
	rbac.EntityCatalog
	restrictions.EntityStore
	auth.TokenStore

	// UserByID returns nil without an error for an unknown user
	UserByID(ctx context.Context, userID string) (*rbac.User, error)
	// AccountIDs lists every known account
	AccountIDs(ctx context.Context) ([]string, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Storage drivers
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config for the storage backend
type Config struct {
	Driver string `yaml:"driver"` // "file", "postgres", "sqlite"

	// File driver
	FixturePath string `yaml:"fixturePath"`

	// SQL drivers
	DSN         string        `yaml:"dsn"`
	ReplicaDSNs []string      `yaml:"replicaDsns"`
	MaxConns    int           `yaml:"maxConns"`
	MinConns    int           `yaml:"minConns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"maxLifetime"`
	MaxIdleTime time.Duration `yaml:"maxIdleTime"`

	// Redis, shared by the permission cache
	RedisURL        string `yaml:"redisUrl"`
	RedisPassword   string `yaml:"redisPassword"`
	RedisDB         int    `yaml:"redisDb"`
	RedisMaxRetries int    `yaml:"redisMaxRetries"`
	RedisPoolSize   int    `yaml:"redisPoolSize"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DriverFile,
		FixturePath:     "warden.yaml",
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     time.Hour,
		MaxIdleTime:     10 * time.Minute,
		RedisURL:        "redis://localhost:6379/0",
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

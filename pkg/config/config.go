package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheTiered = "tiered"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	Rebuild       RebuildConfig       `yaml:"rebuild"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       storage.Config      `yaml:"storage"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the admin HTTP server settings. It serves /metrics and
// the health checks.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// TrustedProxies are the CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are honoured
	TrustedProxies []string `yaml:"trustedProxies"`
}

// CacheConfig configures the permission cache
type CacheConfig struct {
	Backend             string        `yaml:"backend"`
	MaxEntries          int           `yaml:"maxEntries"`
	TTL                 time.Duration `yaml:"ttl"` // 0 means entries never expire
	Namespace           string        `yaml:"namespace"`
	InvalidationChannel string        `yaml:"invalidationChannel"`
	Singleflight        bool          `yaml:"singleflight"`
}

// RebuildConfig sizes the background rebuild pool
type RebuildConfig struct {
	Workers     int           `yaml:"workers"`
	TaskTimeout time.Duration `yaml:"taskTimeout"`
}

// AuthConfig configures bearer token handling
type AuthConfig struct {
	Secret      string        `yaml:"secret"`
	Issuer      string        `yaml:"issuer"`
	TokenExpiry time.Duration `yaml:"tokenExpiry"`
	CacheSize   int           `yaml:"cacheSize"`
	CacheTTL    time.Duration `yaml:"cacheTtl"`
	Env         string        `yaml:"env"`
}

// JobsConfig configures scheduled maintenance
type JobsConfig struct {
	PurgeSchedule      string        `yaml:"purgeSchedule"`
	TokenPurgeSchedule string        `yaml:"tokenPurgeSchedule"`
	WatchFixtures      bool          `yaml:"watchFixtures"`
	WatchDebounce      time.Duration `yaml:"watchDebounce"`
}

// AuditConfig configures the decision audit log. Events go to the process
// logger when enabled, and also to JSON files when Path is set.
type AuditConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	Rotate         bool   `yaml:"rotate"`
	MaxSize        int64  `yaml:"maxSize"`
	MaxFiles       int    `yaml:"maxFiles"`
	LogAllRequests bool   `yaml:"logAllRequests"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"logLevel"`
	LogFormat      string `yaml:"logFormat"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otelEnabled"`
	OTelEndpoint       string  `yaml:"otelEndpoint"`
	OTelServiceName    string  `yaml:"otelServiceName"`
	OTelServiceVersion string  `yaml:"otelServiceVersion"`
	OTelInsecure       bool    `yaml:"otelInsecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otelSampleRatio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:             CacheMemory,
			MaxEntries:          100000,
			Namespace:           "warden",
			InvalidationChannel: permcache.DefaultInvalidationChannel,
			Singleflight:        true,
		},
		Rebuild: RebuildConfig{
			Workers:     4,
			TaskTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:      auth.DefaultIssuer,
			TokenExpiry: 24 * time.Hour,
			CacheSize:   10000,
			CacheTTL:    10 * time.Minute,
		},
		Storage: storage.DefaultConfig(),
		Jobs: JobsConfig{
			PurgeSchedule:      "0 3 * * *",
			TokenPurgeSchedule: "@every 1h",
			WatchFixtures:      true,
			WatchDebounce:      500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Rotate:   true,
			MaxSize:  100 * 1024 * 1024,
			MaxFiles: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "warden",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads the defaults, then the YAML file named by
// WARDEN_CONFIG_FILE if set, then environment overrides, and validates the
// result
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("WARDEN_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	// Server
	c.Server.Address = getEnv("WARDEN_ADDRESS", c.Server.Address)
	c.Server.ReadTimeout = getEnvDuration("WARDEN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("WARDEN_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	if proxies := getEnv("WARDEN_TRUSTED_PROXIES", ""); proxies != "" {
		c.Server.TrustedProxies = splitList(proxies)
	}

	// Cache
	c.Cache.Backend = strings.ToLower(getEnv("WARDEN_CACHE_BACKEND", c.Cache.Backend))
	c.Cache.MaxEntries = getEnvInt("WARDEN_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.TTL = getEnvDuration("WARDEN_CACHE_TTL", c.Cache.TTL)
	c.Cache.Namespace = getEnv("WARDEN_CACHE_NAMESPACE", c.Cache.Namespace)
	c.Cache.InvalidationChannel = getEnv("WARDEN_CACHE_INVALIDATION_CHANNEL", c.Cache.InvalidationChannel)
	c.Cache.Singleflight = getEnvBool("WARDEN_CACHE_SINGLEFLIGHT", c.Cache.Singleflight)

	// Rebuild pool
	c.Rebuild.Workers = getEnvInt("WARDEN_REBUILD_WORKERS", c.Rebuild.Workers)
	c.Rebuild.TaskTimeout = getEnvDuration("WARDEN_REBUILD_TASK_TIMEOUT", c.Rebuild.TaskTimeout)

	// Auth
	c.Auth.Secret = getEnv("WARDEN_JWT_SECRET", c.Auth.Secret)
	c.Auth.Issuer = getEnv("WARDEN_JWT_ISSUER", c.Auth.Issuer)
	c.Auth.TokenExpiry = getEnvDuration("WARDEN_TOKEN_EXPIRY", c.Auth.TokenExpiry)
	c.Auth.CacheSize = getEnvInt("WARDEN_TOKEN_CACHE_SIZE", c.Auth.CacheSize)
	c.Auth.CacheTTL = getEnvDuration("WARDEN_TOKEN_CACHE_TTL", c.Auth.CacheTTL)
	c.Auth.Env = getEnv("WARDEN_ENV", c.Auth.Env)

	// Storage
	c.Storage.Driver = strings.ToLower(getEnv("WARDEN_STORAGE_DRIVER", c.Storage.Driver))
	c.Storage.FixturePath = getEnv("WARDEN_FIXTURE_PATH", c.Storage.FixturePath)
	c.Storage.DSN = getEnv("WARDEN_DATABASE_URL", c.Storage.DSN)
	if replicas := getEnv("WARDEN_DATABASE_REPLICA_URLS", ""); replicas != "" {
		c.Storage.ReplicaDSNs = splitList(replicas)
	}
	c.Storage.MaxConns = getEnvInt("WARDEN_DATABASE_MAX_CONNS", c.Storage.MaxConns)
	c.Storage.MinConns = getEnvInt("WARDEN_DATABASE_MIN_CONNS", c.Storage.MinConns)
	c.Storage.Timeout = getEnvDuration("WARDEN_DATABASE_TIMEOUT", c.Storage.Timeout)
	c.Storage.RedisURL = getEnv("WARDEN_REDIS_URL", c.Storage.RedisURL)
	c.Storage.RedisPassword = getEnv("WARDEN_REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisDB = getEnvInt("WARDEN_REDIS_DB", c.Storage.RedisDB)
	c.Storage.RedisMaxRetries = getEnvInt("WARDEN_REDIS_MAX_RETRIES", c.Storage.RedisMaxRetries)
	c.Storage.RedisPoolSize = getEnvInt("WARDEN_REDIS_POOL_SIZE", c.Storage.RedisPoolSize)

	// Jobs
	c.Jobs.PurgeSchedule = getEnv("WARDEN_PURGE_SCHEDULE", c.Jobs.PurgeSchedule)
	c.Jobs.TokenPurgeSchedule = getEnv("WARDEN_TOKEN_PURGE_SCHEDULE", c.Jobs.TokenPurgeSchedule)
	c.Jobs.WatchFixtures = getEnvBool("WARDEN_WATCH_FIXTURES", c.Jobs.WatchFixtures)
	c.Jobs.WatchDebounce = getEnvDuration("WARDEN_WATCH_DEBOUNCE", c.Jobs.WatchDebounce)

	// Audit
	c.Audit.Enabled = getEnvBool("WARDEN_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.Path = getEnv("WARDEN_AUDIT_PATH", c.Audit.Path)
	c.Audit.MaxFiles = getEnvInt("WARDEN_AUDIT_MAX_FILES", c.Audit.MaxFiles)
	c.Audit.LogAllRequests = getEnvBool("WARDEN_AUDIT_LOG_ALL_REQUESTS", c.Audit.LogAllRequests)

	// Observability
	c.Observability.LogLevel = getEnv("WARDEN_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("WARDEN_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("WARDEN_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("WARDEN_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("WARDEN_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("WARDEN_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("WARDEN_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("WARDEN_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, err)
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis, CacheTiered:
		if c.Storage.RedisURL == "" {
			errs = append(errs, fmt.Errorf("redis URL is required for the %s cache backend", c.Cache.Backend))
		}
		if c.Cache.Backend == CacheTiered && c.Cache.InvalidationChannel == "" {
			errs = append(errs, errors.New("invalidation channel is required for the tiered cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid cache backend: %s (must be memory, redis, or tiered)", c.Cache.Backend))
	}
	if c.Cache.Backend != CacheRedis && c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache max entries must be positive"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache TTL must not be negative"))
	}

	if c.Rebuild.Workers < 1 {
		errs = append(errs, errors.New("rebuild workers must be at least 1"))
	}

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	}
	if c.Auth.TokenExpiry <= 0 {
		errs = append(errs, errors.New("token expiry must be positive"))
	}

	switch c.Storage.Driver {
	case storage.DriverFile:
		if c.Storage.FixturePath == "" {
			errs = append(errs, errors.New("fixture path is required for file storage"))
		}
	case storage.DriverPostgres, storage.DriverSQLite:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("database URL is required for %s storage", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage driver: %s (must be file, postgres, or sqlite)", c.Storage.Driver))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"purge": c.Jobs.PurgeSchedule, "token purge": c.Jobs.TokenPurgeSchedule} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s schedule %q: %w", name, spec, err))
		}
	}

	if c.Audit.Path != "" && c.Audit.MaxFiles < 1 {
		errs = append(errs, errors.New("audit max files must be at least 1"))
	}

	switch strings.ToLower(c.Observability.LogFormat) {
	case observability.FormatJSON, observability.FormatText:
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat))
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// AuthOptions converts the auth section for the token validator
func (c *Config) AuthOptions() auth.Config {
	return auth.Config{
		Secret:      []byte(c.Auth.Secret),
		Issuer:      c.Auth.Issuer,
		TokenExpiry: c.Auth.TokenExpiry,
		CacheSize:   c.Auth.CacheSize,
		CacheTTL:    c.Auth.CacheTTL,
		Env:         c.Auth.Env,
	}
}

// AuditOptions converts the audit section for the file logger
func (c *Config) AuditOptions() audit.FileLoggerConfig {
	return audit.FileLoggerConfig{
		BasePath: c.Audit.Path,
		Rotate:   c.Audit.Rotate,
		MaxSize:  c.Audit.MaxSize,
		MaxFiles: c.Audit.MaxFiles,
	}
}

// OTelOptions converts the tracing settings
func (c *Config) OTelOptions() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

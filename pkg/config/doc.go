// Package config loads and validates Warden configuration.
//
// Defaults are overlaid by an optional YAML file named by WARDEN_CONFIG_FILE
// and then by environment variables:
//
//	WARDEN_ADDRESS=":9090"                  # admin server: /metrics, /healthz, /readyz
//	WARDEN_CACHE_BACKEND="tiered"           # memory, redis, tiered
//	WARDEN_CACHE_MAX_ENTRIES="100000"
//	WARDEN_CACHE_TTL="0"                    # 0 keeps entries until evicted
//	WARDEN_CACHE_SINGLEFLIGHT="true"
//	WARDEN_REBUILD_WORKERS="4"
//	WARDEN_JWT_SECRET="..."
//	WARDEN_STORAGE_DRIVER="postgres"        # file, postgres, sqlite
//	WARDEN_DATABASE_URL="postgres://localhost/warden"
//	WARDEN_FIXTURE_PATH="warden.yaml"
//	WARDEN_REDIS_URL="redis://localhost:6379/0"
//	WARDEN_PURGE_SCHEDULE="0 3 * * *"
//	WARDEN_LOG_LEVEL="info"
//	WARDEN_OTEL_ENABLED="false"
//
// Validate reports every problem at once.
package config

package config

import "time"

// TrackerConfig holds runtime configuration for the tracker API service.
type TrackerConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	LogLevel           string
	CachePath          string
	ChangeChannelName  string
	FreshnessWindow    time.Duration
	LoadSafetyTimeout  time.Duration
	DebounceWindow     time.Duration
	RefreshBaseTimeout time.Duration
	RefreshMaxTimeout  time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	MetricsEnabled     bool
}

// LoadTrackerConfig constructs a TrackerConfig from environment variables.
func LoadTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4100"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://tracker:tracker@db:5432/tracker?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		CachePath:          GetString("SNAPSHOT_CACHE_PATH", "tracker-cache.db"),
		ChangeChannelName:  GetString("PG_CHANGE_CHANNEL", "tracker_changes"),
		FreshnessWindow:    time.Duration(GetInt("SYNC_FRESHNESS_SECONDS", 30)) * time.Second,
		LoadSafetyTimeout:  time.Duration(GetInt("SYNC_SAFETY_TIMEOUT_SECONDS", 10)) * time.Second,
		DebounceWindow:     time.Duration(GetInt("SYNC_DEBOUNCE_SECONDS", 5)) * time.Second,
		RefreshBaseTimeout: time.Duration(GetInt("SYNC_REFRESH_BASE_TIMEOUT_SECONDS", 10)) * time.Second,
		RefreshMaxTimeout:  time.Duration(GetInt("SYNC_REFRESH_MAX_TIMEOUT_SECONDS", 60)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		MetricsEnabled:     GetBool("METRICS_ENABLED", true),
	}
}

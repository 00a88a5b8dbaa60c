package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Staging  StagingConfig
	Archive  ArchiveConfig
	Ingest   IngestConfig
	RowCache RowCacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StagingConfig controls the local staging store.
type StagingConfig struct {
	Dir string
}

// ArchiveConfig controls the remote object store and archival workers.
type ArchiveConfig struct {
	Endpoint        string
	Bucket          string
	StorageClass    string
	RequestTimeout  time.Duration
	Workers         int
	QueueSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	StaleAfter      time.Duration
	JanitorInterval time.Duration
}

// IngestConfig bounds upload handling.
type IngestConfig struct {
	MaxFileSizeBytes int64
}

// RowCacheConfig governs the Redis row-view cache.
type RowCacheConfig struct {
	TTL         time.Duration
	MaxPageSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Staging = StagingConfig{
		Dir: v.GetString("STAGING_DIR"),
	}

	cfg.Archive = ArchiveConfig{
		Endpoint:        v.GetString("ARCHIVE_ENDPOINT"),
		Bucket:          v.GetString("ARCHIVE_BUCKET"),
		StorageClass:    v.GetString("ARCHIVE_STORAGE_CLASS"),
		RequestTimeout:  parseDuration(v.GetString("ARCHIVE_REQUEST_TIMEOUT"), 30*time.Second),
		Workers:         v.GetInt("ARCHIVE_WORKERS"),
		QueueSize:       v.GetInt("ARCHIVE_QUEUE_SIZE"),
		MaxAttempts:     v.GetInt("ARCHIVE_MAX_ATTEMPTS"),
		BaseBackoff:     parseDuration(v.GetString("ARCHIVE_BASE_BACKOFF"), time.Second),
		StaleAfter:      parseDuration(v.GetString("ARCHIVE_STALE_AFTER"), 10*time.Minute),
		JanitorInterval: parseDuration(v.GetString("ARCHIVE_JANITOR_INTERVAL"), time.Minute),
	}

	maxUploadSize := v.GetInt64("INGEST_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 50 * 1024 * 1024
	}
	cfg.Ingest = IngestConfig{MaxFileSizeBytes: maxUploadSize}

	cfg.RowCache = RowCacheConfig{
		TTL:         parseDuration(v.GetString("ROW_CACHE_TTL"), 10*time.Minute),
		MaxPageSize: v.GetInt("ROW_PAGE_SIZE_MAX"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "soh_ingest")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STAGING_DIR", "./data")

	v.SetDefault("ARCHIVE_ENDPOINT", "http://localhost:9000")
	v.SetDefault("ARCHIVE_BUCKET", "soh-files-bucket")
	v.SetDefault("ARCHIVE_STORAGE_CLASS", "STANDARD")
	v.SetDefault("ARCHIVE_REQUEST_TIMEOUT", "30s")
	v.SetDefault("ARCHIVE_WORKERS", 2)
	v.SetDefault("ARCHIVE_QUEUE_SIZE", 64)
	v.SetDefault("ARCHIVE_MAX_ATTEMPTS", 5)
	v.SetDefault("ARCHIVE_BASE_BACKOFF", "1s")
	v.SetDefault("ARCHIVE_STALE_AFTER", "10m")
	v.SetDefault("ARCHIVE_JANITOR_INTERVAL", "1m")

	v.SetDefault("INGEST_MAX_FILE_SIZE", 50*1024*1024)

	v.SetDefault("ROW_CACHE_TTL", "10m")
	v.SetDefault("ROW_PAGE_SIZE_MAX", 500)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

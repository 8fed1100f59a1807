package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Catalog backends selectable through DEDUPDRIVE_CATALOG_BACKEND.
const (
	CatalogPostgres = "postgres"
	CatalogMemory   = "memory"
)

// Config aggregates runtime configuration for the dedupdrive API.
type Config struct {
	Server         ServerConfig
	Postgres       PostgresConfig
	MinIO          MinIOConfig
	Auth           AuthConfig
	Metrics        MetricsConfig
	Files          FilesConfig
	Cache          CacheConfig
	Presign        PresignConfig
	RateLimit      RateLimitConfig
	CatalogBackend string `validate:"oneof=postgres memory"`
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int           `validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string
	Database string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// MigrateOnStart applies pending schema migrations before serving.
	MigrateOnStart  bool
	MaxConns        int32         `validate:"gte=1"`
	MinConns        int32         `validate:"gte=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `validate:"gte=0"`
	// ConnectAttempts bounds the startup ping retries while the database
	// is still coming up.
	ConnectAttempts int `validate:"gte=1"`
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return p.URL("postgres")
}

// URL renders the connection string under scheme, escaping credentials.
func (p PostgresConfig) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string `validate:"required"`
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`
	Bucket          string `validate:"required"`
	UseSSL          bool
	Region          string

	// StagingExpiryDays is the lifecycle expiry applied to abandoned staging
	// uploads. 0 leaves the bucket lifecycle untouched.
	StagingExpiryDays int `validate:"gte=0"`
}

// AuthConfig holds the bearer token verification settings. Tokens are
// issued elsewhere; this service only verifies them.
type AuthConfig struct {
	AccessTokenSecret string `validate:"min=16"`
	Issuer            string
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string `validate:"startswith=/"`
}

// FilesConfig bounds what an upload may contain.
type FilesConfig struct {
	MaxFileSize int64 `validate:"gt=0"`
	// AllowedTypes restricts uploads to these MIME types. Empty allows all.
	AllowedTypes []string
	// QuotaBytes caps the original bytes one owner may hold. 0 disables.
	QuotaBytes int64 `validate:"gte=0"`
}

// CacheConfig sizes the storage statistics cache. A zero TTL disables it.
type CacheConfig struct {
	StatsSize int           `validate:"gte=0"`
	StatsTTL  time.Duration `validate:"gte=0"`
}

// PresignConfig bounds the lifetime of presigned download URLs. MinIO
// rejects expiries beyond seven days.
type PresignConfig struct {
	DefaultTTL time.Duration `validate:"gt=0,ltefield=MaxTTL"`
	MaxTTL     time.Duration `validate:"gt=0,lte=168h"`
}

// RateLimitConfig throttles authenticated API calls per user. A zero
// RequestsPerSecond disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond int `validate:"gte=0"`
	// Burst defaults to RequestsPerSecond when zero.
	Burst        int `validate:"gte=0"`
	TrackedUsers int `validate:"gte=1"`
}

// Load reads configuration values from environment variables, applying
// defaults, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("DEDUPDRIVE_API_HOST", "0.0.0.0"),
			Port:         getInt("DEDUPDRIVE_API_PORT", 8080),
			ReadTimeout:  getDuration("DEDUPDRIVE_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("DEDUPDRIVE_API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDuration("DEDUPDRIVE_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:            getString("POSTGRES_HOST", "localhost"),
			Port:            getInt("POSTGRES_PORT", 5432),
			User:            getString("POSTGRES_USER", "dedupdrive_app"),
			Password:        getString("POSTGRES_PASSWORD", "change-me"),
			Database:        getString("POSTGRES_DB", "dedupdrive"),
			SSLMode:         strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MigrateOnStart:  getBool("POSTGRES_MIGRATE_ON_START", true),
			MaxConns:        int32(getInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:        int32(getInt("POSTGRES_MIN_CONNS", 0)),
			MaxConnLifetime: getDuration("POSTGRES_MAX_CONN_LIFETIME", time.Hour),
			ConnectAttempts: getInt("POSTGRES_CONNECT_ATTEMPTS", 5),
		},
		MinIO: MinIOConfig{
			Endpoint:          getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:       getString("MINIO_ROOT_USER", "dedupdrive"),
			SecretAccessKey:   getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:            getString("MINIO_BUCKET", "dedupdrive"),
			UseSSL:            getBool("MINIO_USE_SSL", false),
			Region:            getString("MINIO_REGION", ""),
			StagingExpiryDays: getInt("MINIO_STAGING_EXPIRY_DAYS", 1),
		},
		Auth: AuthConfig{
			AccessTokenSecret: getString("DEDUPDRIVE_JWT_SECRET", "change-me-to-a-32-byte-secret"),
			Issuer:            getString("DEDUPDRIVE_JWT_ISSUER", ""),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("DEDUPDRIVE_METRICS_PATH", "/metrics"),
		},
		Files: FilesConfig{
			MaxFileSize:  getInt64("DEDUPDRIVE_MAX_FILE_SIZE_MB", 100) * 1024 * 1024,
			AllowedTypes: getList("DEDUPDRIVE_ALLOWED_TYPES"),
			QuotaBytes:   getInt64("USER_STORAGE_QUOTA_MB", 0) * 1024 * 1024,
		},
		Cache: CacheConfig{
			StatsSize: getInt("DEDUPDRIVE_STATS_CACHE_SIZE", 256),
			StatsTTL:  getDuration("DEDUPDRIVE_STATS_CACHE_TTL", 30*time.Second),
		},
		Presign: PresignConfig{
			DefaultTTL: getDuration("DEDUPDRIVE_PRESIGN_TTL", 15*time.Minute),
			MaxTTL:     getDuration("DEDUPDRIVE_PRESIGN_MAX_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getInt("DEDUPDRIVE_API_RATE_LIMIT", 20),
			Burst:             getInt("DEDUPDRIVE_API_RATE_BURST", 0),
			TrackedUsers:      getInt("DEDUPDRIVE_API_RATE_USERS", 10000),
		},
		CatalogBackend: strings.ToLower(getString("DEDUPDRIVE_CATALOG_BACKEND", CatalogPostgres)),
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// getList splits a comma-separated variable, dropping blanks.
func getList(key string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

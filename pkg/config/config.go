package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage and queue drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
	QueueDriverMemory  = "memory"
	QueueDriverRedis   = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Reports    ReportsConfig
	Membership MembershipConfig
	NATS       NATSConfig
}

type DatabaseConfig struct {
	Driver       string
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReportsConfig configures report generation, storage and delivery.
type ReportsConfig struct {
	StorageDriver      string
	StorageDir         string
	S3                 S3Config
	SignedURLSecret    string
	SignedURLTTL       time.Duration
	QueueDriver        string
	QueueName          string
	WorkerConcurrency  int
	WorkerRetries      int
	AggregationTimeout time.Duration
	StorageTimeout     time.Duration
	PDFPreviewLimit    int
	IndexWindow        int
	ArtifactTTL        time.Duration
	CleanupInterval    time.Duration
	StaleAfter         time.Duration
}

// S3Config points the artifact store at an S3 compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MembershipConfig tunes organization membership lookups.
type MembershipConfig struct {
	CacheTTL time.Duration
}

// NATSConfig configures lifecycle notifications. An empty URL disables them.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Reports = ReportsConfig{
		StorageDriver: strings.ToLower(v.GetString("REPORTS_STORAGE_DRIVER")),
		StorageDir:    v.GetString("REPORTS_STORAGE_DIR"),
		S3: S3Config{
			Endpoint:  v.GetString("REPORTS_S3_ENDPOINT"),
			AccessKey: v.GetString("REPORTS_S3_ACCESS_KEY"),
			SecretKey: v.GetString("REPORTS_S3_SECRET_KEY"),
			Bucket:    v.GetString("REPORTS_S3_BUCKET"),
			Region:    v.GetString("REPORTS_S3_REGION"),
			UseSSL:    v.GetBool("REPORTS_S3_USE_SSL"),
		},
		SignedURLSecret:    v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:       parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		QueueDriver:        strings.ToLower(v.GetString("REPORTS_QUEUE_DRIVER")),
		QueueName:          v.GetString("REPORTS_QUEUE_NAME"),
		WorkerConcurrency:  v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:      v.GetInt("REPORTS_WORKER_RETRIES"),
		AggregationTimeout: parseDuration(v.GetString("REPORTS_AGGREGATION_TIMEOUT"), 30*time.Second),
		StorageTimeout:     parseDuration(v.GetString("REPORTS_STORAGE_TIMEOUT"), 15*time.Second),
		PDFPreviewLimit:    v.GetInt("REPORTS_PDF_PREVIEW_LIMIT"),
		IndexWindow:        v.GetInt("REPORTS_INDEX_WINDOW"),
		ArtifactTTL:        parseDuration(v.GetString("REPORTS_ARTIFACT_TTL"), 7*24*time.Hour),
		CleanupInterval:    parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		StaleAfter:         parseDuration(v.GetString("REPORTS_STALE_AFTER"), 30*time.Minute),
	}

	cfg.Membership = MembershipConfig{
		CacheTTL: parseDuration(v.GetString("MEMBERSHIP_CACHE_TTL"), 5*time.Minute),
	}

	cfg.NATS = NATSConfig{
		URL:           v.GetString("NATS_URL"),
		SubjectPrefix: v.GetString("NATS_SUBJECT_PREFIX"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sitereport")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REPORTS_STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_S3_ENDPOINT", "localhost:9000")
	v.SetDefault("REPORTS_S3_ACCESS_KEY", "")
	v.SetDefault("REPORTS_S3_SECRET_KEY", "")
	v.SetDefault("REPORTS_S3_BUCKET", "site-reports")
	v.SetDefault("REPORTS_S3_REGION", "")
	v.SetDefault("REPORTS_S3_USE_SSL", false)
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_QUEUE_DRIVER", QueueDriverMemory)
	v.SetDefault("REPORTS_QUEUE_NAME", "reports")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 2)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
	v.SetDefault("REPORTS_AGGREGATION_TIMEOUT", "30s")
	v.SetDefault("REPORTS_STORAGE_TIMEOUT", "15s")
	v.SetDefault("REPORTS_PDF_PREVIEW_LIMIT", 15)
	v.SetDefault("REPORTS_INDEX_WINDOW", 50)
	v.SetDefault("REPORTS_ARTIFACT_TTL", "168h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_STALE_AFTER", "30m")

	v.SetDefault("MEMBERSHIP_CACHE_TTL", "5m")

	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_SUBJECT_PREFIX", "sitereport.reports")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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

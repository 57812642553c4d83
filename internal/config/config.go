package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Fetch
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	FeedItemLimit  int
	OgImageTimeout time.Duration

	// AI（ユーザー設定が無い場合のグローバル認証情報）
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAITemperature float64
	AIRequestTimeout  time.Duration

	// Image providers
	PexelsAPIKey       string
	UnsplashAccessKey  string
	WikimediaUserAgent string

	// Publish
	PostlyBaseURL      string
	PublishTimeout     time.Duration
	PublishBackoffUnit time.Duration

	// Pipeline
	MaxGenerationAttempts int
	MaxPublishAttempts    int
	MaxImageAttempts      int
	LeaseDuration         time.Duration

	// Scheduler
	SchedulerInterval time.Duration
	PrepareBatchSize  int
	PrepareWindow     time.Duration
	FetchCooldown     time.Duration
	DefaultTimezone   string

	// Logging
	LogLevel         string
	LogRetentionDays int
	SentryDSN        string
	Environment      string

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	TriggerRatePerMin int
	MetricsPort       string // workerモードで/metricsを公開するポート
}

// LoadDotEnv は.envファイルが存在すれば環境変数として読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが無い場合はエラーにしない。
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FeedItemLimit = getEnvInt("FEED_ITEM_LIMIT", 30)
	cfg.OgImageTimeout = getEnvDuration("OG_IMAGE_TIMEOUT", 5*time.Second)

	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAITemperature = getEnvFloat("OPENAI_TEMPERATURE", 0.7)
	cfg.AIRequestTimeout = getEnvDuration("AI_REQUEST_TIMEOUT", 2*time.Minute)

	cfg.PexelsAPIKey = getEnvString("PEXELS_API_KEY", "")
	cfg.UnsplashAccessKey = getEnvString("UNSPLASH_ACCESS_KEY", "")
	cfg.WikimediaUserAgent = getEnvString("WIKIMEDIA_USER_AGENT", "Feedcaster/1.0 (content pipeline)")

	cfg.PostlyBaseURL = getEnvString("POSTLY_BASE_URL", "https://openapi.postly.ai/v1")
	cfg.PublishTimeout = getEnvDuration("PUBLISH_TIMEOUT", time.Minute)
	cfg.PublishBackoffUnit = getEnvDuration("PUBLISH_BACKOFF_UNIT", 5*time.Second)

	cfg.MaxGenerationAttempts = getEnvInt("MAX_GENERATION_ATTEMPTS", 3)
	cfg.MaxPublishAttempts = getEnvInt("MAX_PUBLISH_ATTEMPTS", 3)
	cfg.MaxImageAttempts = getEnvInt("MAX_IMAGE_ATTEMPTS", 3)
	cfg.LeaseDuration = getEnvDuration("LEASE_DURATION", 10*time.Minute)

	cfg.SchedulerInterval = getEnvDuration("SCHEDULER_INTERVAL", 5*time.Minute)
	cfg.PrepareBatchSize = getEnvInt("PREPARE_BATCH_SIZE", 2)
	cfg.PrepareWindow = getEnvDuration("PREPARE_WINDOW", 30*time.Minute)
	cfg.FetchCooldown = getEnvDuration("FETCH_COOLDOWN", time.Hour)
	cfg.DefaultTimezone = getEnvString("DEFAULT_TIMEZONE", "UTC")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 90)
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")
	cfg.Environment = getEnvString("APP_ENV", "production")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TriggerRatePerMin = getEnvInt("TRIGGER_RATE_PER_MIN", 30)
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

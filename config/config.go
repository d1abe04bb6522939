package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	HTTP        ServerConfig
	Backend     BackendConfig
	Polling     PollingConfig
	Analytics   AnalyticsConfig
	Redis       RedisConfig
	Conversions ConversionsConfig
	MySQL       MySQLConfig
	Sessions    SessionsConfig
	Log         LogConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type BackendConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

type PollingConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type AnalyticsConfig struct {
	CollectorURL string
	Currency     string
	HTTPTimeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ConversionsConfig struct {
	FilePath string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SessionsConfig struct {
	Retention time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	backendBaseURL := os.Getenv("BACKEND_BASE_URL")
	if backendBaseURL == "" {
		return nil, errors.New("BACKEND_BASE_URL environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "purchase-reconciler"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		Backend: BackendConfig{
			BaseURL:     backendBaseURL,
			HTTPTimeout: getSecondsEnv("BACKEND_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Polling: PollingConfig{
			Interval:    getMillisEnv("POLLING_INTERVAL_MS", 2000*time.Millisecond),
			MaxAttempts: getIntEnv("POLLING_MAX_ATTEMPTS", 150),
		},
		Analytics: AnalyticsConfig{
			CollectorURL: getEnv("ANALYTICS_COLLECTOR_URL", ""),
			Currency:     getEnv("ANALYTICS_CURRENCY", "COP"),
			HTTPTimeout:  getSecondsEnv("ANALYTICS_HTTP_TIMEOUT_SECONDS", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Conversions: ConversionsConfig{
			FilePath: getEnv("CONVERSIONS_FILE_PATH", "data/conversions.json"),
		},
		MySQL: MySQLConfig{
			DSN:             getEnv("MYSQL_DSN", ""),
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Sessions: SessionsConfig{
			Retention: getMinutesEnv("SESSIONS_RETENTION_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}

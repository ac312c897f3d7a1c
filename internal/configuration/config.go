package configuration

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Database  DatabaseConfig
	MinIO     MinIOConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	NATSURL   string
	CLAMAVURL string
	Tracing   TracingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

type ServerConfig struct {
	Port string
	// BaseURL is the public origin used to build shareable links.
	BaseURL string
	// MaxFileSizeMB caps registered uploads; the presign response
	// advertises the limit to clients.
	MaxFileSizeMB int64
}

type RateLimitConfig struct {
	WindowSeconds int
	MaxRequests   int
}

type TracingConfig struct {
	Enabled bool
	Service string
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "fileuser"),
			Password: getEnv("DB_PASSWORD", "filepassword"),
			DBName:   getEnv("DB_NAME", "fileshare"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
			BucketName: getEnv("MINIO_BUCKET", "files"),
			UseSSL:     getEnv("MINIO_USE_SSL", "false") == "true",
		},
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			BaseURL:       getEnv("BASE_URL", "http://localhost:8080"),
			MaxFileSizeMB: getEnvInt64("MB_MAX_FILE_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
		},
		NATSURL:   getEnv("NATS_URL", ""),
		CLAMAVURL: getEnv("CLAMAV_URL", ""),
		Tracing: TracingConfig{
			Enabled: getEnv("DD_TRACE_ENABLED", "false") == "true",
			Service: getEnv("DD_SERVICE", "file-service"),
		},
	}
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

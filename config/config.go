package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Capture  CaptureConfig
	Douyin   DouyinConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP settings for the capture agent.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// CaptureConfig holds defaults for capture runs.
type CaptureConfig struct {
	OutputDir  string
	FFmpegPath string
	// Qualities is the default label set when a run requests none.
	Qualities []string
}

// DouyinConfig holds resolver settings.
type DouyinConfig struct {
	// Cookies is an optional cookie header forwarded to both resolution
	// strategies; helps with anti-crawl challenges.
	Cookies    string
	WebBaseURL string
	AppBaseURL string
}

// DatabaseConfig holds PostgreSQL settings for the optional run history.
type DatabaseConfig struct {
	URL string // empty disables history persistence
}

// Enabled reports whether run history is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig holds Redis settings for the optional archive queue and
// event mirror.
type RedisConfig struct {
	Addr     string // empty disables Redis features
	Password string
	DB       int
}

// Enabled reports whether Redis features are configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AuthConfig holds bearer-token settings for the agent API.
type AuthConfig struct {
	Secret string // empty disables auth
}

// Enabled reports whether API auth is configured.
func (c AuthConfig) Enabled() bool { return c.Secret != "" }

// AWSConfig holds credentials and the bucket for capture archival.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string // empty disables archival
}

// Enabled reports whether S3 archival is configured.
func (c AWSConfig) Enabled() bool { return c.Bucket != "" }

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Capture: CaptureConfig{
			OutputDir:  getEnv("CAPTURE_OUTPUT_DIR", "downloads"),
			FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
			Qualities:  splitTrim(getEnv("CAPTURE_QUALITIES", "OD"), ","),
		},
		Douyin: DouyinConfig{
			Cookies:    getEnv("DOUYIN_COOKIES", ""),
			WebBaseURL: getEnv("DOUYIN_WEB_BASE_URL", ""),
			AppBaseURL: getEnv("DOUYIN_APP_BASE_URL", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Secret: getEnv("AGENT_AUTH_SECRET", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("AWS_S3_CAPTURES_BUCKET", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

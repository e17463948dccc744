package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime knob. Values come from the environment with
// the documented defaults; main loads .env through godotenv before calling Load.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	UploadDirectory  string
	MaxFileSize      int64
	AllowedFileTypes []string

	DBPoolSize    int
	DBMaxOverflow int
	DBPoolTimeout time.Duration
	DBPoolRecycle time.Duration

	RequestCounterWrap int64

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Load reads the environment and applies defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=cmsvs port=5432 sslmode=disable"),
		JWTSecret:   getEnv("JWT_SECRET", "change-me-in-production"),

		UploadDirectory:  getEnv("UPLOAD_DIRECTORY", "uploads"),
		MaxFileSize:      getEnvInt64("MAX_FILE_SIZE", 10485760),
		AllowedFileTypes: splitTypes(getEnv("ALLOWED_FILE_TYPES", "pdf,doc,docx,txt,jpg,jpeg,png,gif")),

		DBPoolSize:    getEnvInt("DB_POOL_SIZE", 20),
		DBMaxOverflow: getEnvInt("DB_MAX_OVERFLOW", 10),
		DBPoolTimeout: time.Duration(getEnvInt("DB_POOL_TIMEOUT", 60)) * time.Second,
		DBPoolRecycle: time.Duration(getEnvInt("DB_POOL_RECYCLE", 3600)) * time.Second,

		RequestCounterWrap: getEnvInt64("REQUEST_COUNTER_WRAP", 9999),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@cmsvs.local"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
	}
}

// IsAllowedType reports whether ext (without the dot, lowercase) is accepted.
func (c *Config) IsAllowedType(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, t := range c.AllowedFileTypes {
		if t == ext {
			return true
		}
	}
	return false
}

func splitTypes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
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

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

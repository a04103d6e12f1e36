package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Upstream backend configuration (the remote chatbot API)
	Upstream struct {
		BaseURL     string
		Timeout     time.Duration
		APIKey      string
		MaxBodySize int64
	}

	// Session coordinator configuration
	Session struct {
		IdleWindow    time.Duration
		TopicDebounce time.Duration
		ReapAfter     time.Duration
		ReapPeriod    time.Duration
	}

	// Redis configuration (preference / identity store)
	Redis RedisConfig

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxUploadSize  int64
		AllowedUploads []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Feature flags
	Features struct {
		EnableWebSockets      bool
		EnableAnalytics       bool
		EnableFileManagement  bool
		ValidateOpenAPI       bool
		OpenAPISchemaPath     string
		MaxAttachmentsPerSend int
	}

	// Cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}
}

// RedisConfig is the redis section of Config, split out so the redis client
// can be constructed without the whole config.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PrefsTTL time.Duration
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables.
// Uses singleton pattern to ensure only one instance exists.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8081")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)

		// Upstream config
		instance.Upstream.BaseURL = getEnvString("UPSTREAM_URL", "http://localhost:8000")
		instance.Upstream.Timeout = getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second)
		instance.Upstream.APIKey = getEnvString("UPSTREAM_API_KEY", "")
		instance.Upstream.MaxBodySize = getEnvInt64("UPSTREAM_MAX_BODY_SIZE", 10<<20) // 10MB

		// Session config. The idle window matches the browser client's five
		// minute feedback prompt, the topic debounce its one minute quiet period.
		instance.Session.IdleWindow = getEnvDuration("SESSION_IDLE_WINDOW", 5*time.Minute)
		instance.Session.TopicDebounce = getEnvDuration("SESSION_TOPIC_DEBOUNCE", 60*time.Second)
		instance.Session.ReapAfter = getEnvDuration("SESSION_REAP_AFTER", 2*time.Hour)
		instance.Session.ReapPeriod = getEnvDuration("SESSION_REAP_PERIOD", 10*time.Minute)

		// Redis config
		instance.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)
		instance.Redis.PrefsTTL = getEnvDuration("REDIS_PREFS_TTL", 0) // 0 = no expiry

		// Security config
		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 20))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 40)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 25<<20) // 25MB
		instance.Security.AllowedUploads = getEnvStringSlice("ALLOWED_UPLOADS", []string{".pdf", ".docx", ".txt", ".md", ".xlsx"})

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Feature flags
		instance.Features.EnableWebSockets = getEnvBool("ENABLE_WEBSOCKETS", true)
		instance.Features.EnableAnalytics = getEnvBool("ENABLE_ANALYTICS", true)
		instance.Features.EnableFileManagement = getEnvBool("ENABLE_FILE_MANAGEMENT", true)
		instance.Features.ValidateOpenAPI = getEnvBool("VALIDATE_OPENAPI", false)
		instance.Features.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "api/openapi.yaml")
		instance.Features.MaxAttachmentsPerSend = getEnvInt("MAX_ATTACHMENTS_PER_SEND", 5)

		// Cache settings
		instance.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
		instance.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
		instance.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
		instance.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

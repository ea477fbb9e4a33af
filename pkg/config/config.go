package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env         string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Typesense   TypesenseConfig
	OpenAI      OpenAIConfig
	SerpAPI     SerpAPIConfig
	Auth        AuthConfig
	Search      SearchConfig
	Preferences PreferenceConfig
	OTEL        OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	SSEPort        int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize    int
	DialTimeout time.Duration
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	URL    string
	APIKey string
}

// OpenAIConfig holds the language-understanding provider configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	RateLimitRPM   int
	RateLimitBurst int
	Timeout        time.Duration
}

// SerpAPIConfig holds the product search provider configuration
type SerpAPIConfig struct {
	APIKey  string
	BaseURL string
	Engine  string
	Country string
	Timeout time.Duration
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// SearchConfig holds search orchestration settings
type SearchConfig struct {
	CacheTTL                 time.Duration
	MaxResults               int
	RetryBackoff             time.Duration
	RateLimit                int
	RateWindow               time.Duration
	HistoryTurns             int
	DefaultRefinementPercent float64
	Currency                 string
}

// PreferenceConfig holds preference store settings
type PreferenceConfig struct {
	MaxPerUser              int
	ExpiryWindow            time.Duration
	ConfidenceFloor         int
	SweepInterval           time.Duration
	PersonalizationPriority int
	PersonalizationLimit    int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment values win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("ENV", "production"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			SSEPort:        getEnvAsInt("SSE_PORT", 8081),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "voiceshop"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),

			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 20),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 3*time.Second),
		},
		Typesense: TypesenseConfig{
			URL:    getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey: getEnv("TYPESENSE_API_KEY", "xyz"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			RateLimitRPM:   getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 120),
			RateLimitBurst: getEnvAsInt("OPENAI_RATE_LIMIT_BURST", 10),
			Timeout:        getEnvAsDuration("OPENAI_TIMEOUT", 15*time.Second),
		},
		SerpAPI: SerpAPIConfig{
			APIKey:  getEnv("SERPAPI_API_KEY", ""),
			BaseURL: getEnv("SERPAPI_BASE_URL", "https://serpapi.com"),
			Engine:  getEnv("SERPAPI_ENGINE", "google_shopping"),
			Country: getEnv("SERPAPI_COUNTRY", "us"),
			Timeout: getEnvAsDuration("SERPAPI_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Search: SearchConfig{
			CacheTTL:                 getEnvAsDuration("SEARCH_CACHE_TTL", time.Hour),
			MaxResults:               getEnvAsInt("SEARCH_MAX_RESULTS", 5),
			RetryBackoff:             getEnvAsDuration("SEARCH_RETRY_BACKOFF", 500*time.Millisecond),
			RateLimit:                getEnvAsInt("SEARCH_RATE_LIMIT", 30),
			RateWindow:               getEnvAsDuration("SEARCH_RATE_WINDOW", time.Minute),
			HistoryTurns:             getEnvAsInt("SEARCH_HISTORY_TURNS", 6),
			DefaultRefinementPercent: getEnvAsFloat("SEARCH_DEFAULT_REFINEMENT_PERCENT", 20),
			Currency:                 getEnv("SEARCH_CURRENCY", "USD"),
		},
		Preferences: PreferenceConfig{
			MaxPerUser:              getEnvAsInt("PREFERENCE_MAX_PER_USER", 50),
			ExpiryWindow:            getEnvAsDuration("PREFERENCE_EXPIRY_WINDOW", 30*24*time.Hour),
			ConfidenceFloor:         getEnvAsInt("PREFERENCE_CONFIDENCE_FLOOR", 3),
			SweepInterval:           getEnvAsDuration("PREFERENCE_SWEEP_INTERVAL", time.Hour),
			PersonalizationPriority: getEnvAsInt("PREFERENCE_PERSONALIZATION_PRIORITY", 7),
			PersonalizationLimit:    getEnvAsInt("PREFERENCE_PERSONALIZATION_LIMIT", 3),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "voiceshop"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Search.CacheTTL <= 0 {
		errs = append(errs, errors.New("SEARCH_CACHE_TTL must be positive"))
	}
	if c.Search.MaxResults <= 0 {
		errs = append(errs, errors.New("SEARCH_MAX_RESULTS must be positive"))
	}
	if c.Preferences.MaxPerUser <= 0 {
		errs = append(errs, errors.New("PREFERENCE_MAX_PER_USER must be positive"))
	}
	if c.Preferences.ExpiryWindow <= 0 {
		errs = append(errs, errors.New("PREFERENCE_EXPIRY_WINDOW must be positive"))
	}
	if c.Auth.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

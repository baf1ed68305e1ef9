package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Content generation
	LLM LLMConfig

	// Logging
	LogLevel string
	LogFile  string

	// Localization
	DefaultLang string

	// HTTP rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Uploads
	MaxUploadMB      int
	MaxMaterialChars int

	// Background work
	WorkerCount    int
	SnapshotShards int

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

// LLMConfig is everything the content generator needs. It is passed
// explicitly to the generator and never read from the environment there.
type LLMConfig struct {
	Provider string // gemini | openai
	APIKey   string
	BaseURL  string // openai-compatible endpoint, empty for the default

	SearchModel     string
	SimulationModel string
	PrecisionModel  string

	RequestsPerMin int
	ConcurrentReqs int
	RequestTimeout time.Duration
	AnalysisCache  time.Duration
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		Env:           getEnvOrDefault("ENV", "development"),
		DatabaseURL:   mustGetEnv("DATABASE_URL"),
		MigrationsDir: getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:      mustGetEnv("REDIS_URL"),
		JWTSecret:     mustGetEnv("JWT_SECRET"),
		LLM:           loadLLM(),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:       getEnvOrDefault("LOG_FILE", "logs/app.log"),
		DefaultLang:   getEnvOrDefault("DEFAULT_LANG", "pt-BR"),

		RateLimitRequests: getEnvAsIntOrDefault("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   time.Duration(getEnvAsIntOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		MaxUploadMB:       getEnvAsIntOrDefault("MAX_UPLOAD_MB", 20),
		MaxMaterialChars:  getEnvAsIntOrDefault("MAX_MATERIAL_CHARS", 60000),
		WorkerCount:       getEnvAsIntOrDefault("WORKER_COUNT", 4),
		SnapshotShards:    getEnvAsIntOrDefault("SNAPSHOT_SHARDS", 4),

		SMTPHost:    getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:    getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:    getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:    getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:    getEnvOrDefault("SMTP_FROM", "noreply@concurseiro.app"),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func loadLLM() LLMConfig {
	provider := getEnvOrDefault("LLM_PROVIDER", ProviderGemini)

	llm := LLMConfig{
		Provider:        provider,
		BaseURL:         getEnvOrDefault("OPENAI_BASE_URL", ""),
		RequestsPerMin:  getEnvAsIntOrDefault("LLM_REQUESTS_PER_MINUTE", 60),
		ConcurrentReqs:  getEnvAsIntOrDefault("LLM_CONCURRENT_REQUESTS", 5),
		RequestTimeout:  time.Duration(getEnvAsIntOrDefault("LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		AnalysisCache:   time.Duration(getEnvAsIntOrDefault("EXAM_ANALYSIS_CACHE_HOURS", 24)) * time.Hour,
		SearchModel:     getEnvOrDefault("LLM_SEARCH_MODEL", "gemini-2.5-flash"),
		SimulationModel: getEnvOrDefault("LLM_SIMULATION_MODEL", "gemini-flash-lite-latest"),
		PrecisionModel:  getEnvOrDefault("LLM_PRECISION_MODEL", "gemini-2.5-flash"),
	}

	switch provider {
	case ProviderOpenAI:
		llm.APIKey = mustGetEnv("OPENAI_API_KEY")
	default:
		llm.APIKey = mustGetEnv("GEMINI_API_KEY")
	}
	return llm
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

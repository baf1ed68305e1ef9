package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/concurseiro")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("GEMINI_API_KEY", "key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"PORT", "DEFAULT_LANG", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS", "MAX_MATERIAL_CHARS", "WORKER_COUNT", "SNAPSHOT_SHARDS", "EXAM_ANALYSIS_CACHE_HOURS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" || cfg.DefaultLang != "pt-BR" || cfg.MigrationsDir != "migrations" {
		t.Errorf("Unexpected server defaults: port=%q lang=%q migrations=%q", cfg.Port, cfg.DefaultLang, cfg.MigrationsDir)
	}
	if cfg.RateLimitRequests != 120 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("Unexpected rate limit defaults: %d per %s", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if cfg.MaxMaterialChars != 60000 || cfg.WorkerCount != 4 || cfg.SnapshotShards != 4 {
		t.Errorf("Unexpected background defaults: %+v", cfg)
	}
	if cfg.LLM.Provider != ProviderGemini || cfg.LLM.AnalysisCache != 24*time.Hour {
		t.Errorf("Unexpected LLM defaults: %+v", cfg.LLM)
	}
}

func TestLoad_Overrides(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(*Config) bool
	}{
		{"worker count", "WORKER_COUNT", "9", func(c *Config) bool { return c.WorkerCount == 9 }},
		{"non-numeric falls back", "WORKER_COUNT", "many", func(c *Config) bool { return c.WorkerCount == 4 }},
		{"rate window in seconds", "RATE_LIMIT_WINDOW_SECONDS", "30", func(c *Config) bool { return c.RateLimitWindow == 30*time.Second }},
		{"material limit", "MAX_MATERIAL_CHARS", "1000", func(c *Config) bool { return c.MaxMaterialChars == 1000 }},
		{"language", "DEFAULT_LANG", "en", func(c *Config) bool { return c.DefaultLang == "en" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)
			if cfg := Load(); !tc.check(cfg) {
				t.Errorf("%s=%q was not applied: %+v", tc.key, tc.value, cfg)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestLoadLLM_Provider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		keyVar   string
	}{
		{"gemini by default", "", "GEMINI_API_KEY"},
		{"openai compatible", "openai", "OPENAI_API_KEY"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LLM_PROVIDER", tc.provider)
			t.Setenv(tc.keyVar, "secret")

			llm := loadLLM()
			if llm.APIKey != "secret" {
				t.Errorf("Expected key from %s, got %q", tc.keyVar, llm.APIKey)
			}
			if llm.SimulationModel != "gemini-flash-lite-latest" || llm.PrecisionModel != "gemini-2.5-flash" {
				t.Errorf("Unexpected default models: %+v", llm)
			}
			if llm.ConcurrentReqs != 5 || llm.RequestsPerMin != 60 {
				t.Errorf("Unexpected default limits: %+v", llm)
			}
		})
	}
}

func TestLoadLLM_MissingKeyPanics(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when the provider key is missing")
		}
	}()
	loadLLM()
}

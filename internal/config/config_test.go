package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "file:local.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Port != "5000" {
		t.Fatalf("unexpected default port: %s", cfg.Port)
	}
	if cfg.SessionTTL != 168*time.Hour {
		t.Fatalf("expected default 168h session ttl, got %v", cfg.SessionTTL)
	}
	if cfg.GroqAPIURL != "https://api.groq.com/openai/v1/chat/completions" {
		t.Fatalf("unexpected groq url: %s", cfg.GroqAPIURL)
	}
	if cfg.GeneralModel != "meta-llama/llama-4-scout-17b-16e-instruct" {
		t.Fatalf("unexpected general model: %s", cfg.GeneralModel)
	}
	if cfg.CodingModel != "meta-llama/llama-4-maverick-17b-128e-instruct" {
		t.Fatalf("unexpected coding model: %s", cfg.CodingModel)
	}
	if cfg.FallbackModel != "openai/gpt-oss-120b" {
		t.Fatalf("unexpected fallback model: %s", cfg.FallbackModel)
	}
	if cfg.SearchTimeout != 10*time.Second || cfg.CompletionTimeout != 45*time.Second {
		t.Fatalf("unexpected timeouts: search=%v completion=%v", cfg.SearchTimeout, cfg.CompletionTimeout)
	}
	if cfg.GroqAPIKey != "" {
		t.Fatalf("expected groq key to stay empty, got %q", cfg.GroqAPIKey)
	}
	if len(cfg.AllowedOrigins) == 0 || cfg.AllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.IsProduction() || cfg.CookieSecure {
		t.Fatalf("development defaults expected, got env=%s secure=%v", cfg.Environment, cfg.CookieSecure)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	isolateEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadAcceptsTursoDatabaseURLAlias(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TURSO_DATABASE_URL", "libsql://chat.example.turso.io")
	t.Setenv("TURSO_AUTH_TOKEN", "abc123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL != "libsql://chat.example.turso.io" {
		t.Fatalf("unexpected database url: %s", cfg.DatabaseURL)
	}
}

func TestLoadRequiresTursoTokenForLibsql(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "libsql://chat.example.turso.io")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when TURSO_AUTH_TOKEN is missing")
	}
}

func TestLoadProductionForcesSecureCookiesAndJSONLogs(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "file:local.db")
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.IsProduction() || !cfg.CookieSecure || cfg.LogFormat != "json" {
		t.Fatalf("unexpected production config: %+v", cfg)
	}
}

func TestLoadReadsEnvFileBelowEnvironment(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "test.env")
	contents := "DATABASE_URL=file:from-env-file.db\nTAVILY_API_KEY=tvly-file\nPORT=7000\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL != "file:from-env-file.db" {
		t.Fatalf("expected database url from env file, got %s", cfg.DatabaseURL)
	}
	if cfg.TavilyAPIKey != "tvly-file" {
		t.Fatalf("expected tavily key from env file, got %q", cfg.TavilyAPIKey)
	}
	if cfg.Port != "9000" {
		t.Fatalf("expected environment to override env file, got %s", cfg.Port)
	}
}

func TestClientBaseURLPrefersResetBase(t *testing.T) {
	cfg := Config{ClientURL: "https://chat.example.com/", ResetPasswordURLBase: "https://reset.example.com//"}
	if got := cfg.ClientBaseURL(); got != "https://reset.example.com" {
		t.Fatalf("unexpected base url: %s", got)
	}

	cfg.ResetPasswordURLBase = ""
	if got := cfg.ClientBaseURL(); got != "https://chat.example.com" {
		t.Fatalf("unexpected base url: %s", got)
	}
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		"PORT", "APP_ENV", "NODE_ENV", "DATABASE_URL", "TURSO_DATABASE_URL", "TURSO_AUTH_TOKEN",
		"GROQ_API_KEY", "VITE_GROQ_API_KEY", "GROQ_API_URL", "VITE_GROQ_API_URL",
		"GENERAL_MODEL", "CODING_MODEL", "FALLBACK_MODEL", "TAVILY_API_KEY", "SERPER_API_KEY",
		"SESSION_TTL_HOURS", "CORS_ALLOWED_ORIGINS", "CLIENT_URL", "LOG_FORMAT",
		"SEARCH_TIMEOUT_SECONDS", "COMPLETION_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func TestChatWriteTimeoutCoversSearchAndFallback(t *testing.T) {
	cfg := Config{SearchTimeout: 10 * time.Second, CompletionTimeout: 45 * time.Second}

	worstCase := 4*cfg.SearchTimeout + 2*cfg.CompletionTimeout
	if got := cfg.ChatWriteTimeout(); got <= worstCase {
		t.Fatalf("write timeout %v does not cover worst case %v", got, worstCase)
	}

	cfg.CompletionTimeout = 90 * time.Second
	if got := cfg.ChatWriteTimeout(); got <= 4*cfg.SearchTimeout+2*cfg.CompletionTimeout {
		t.Fatalf("write timeout %v must grow with the completion timeout", got)
	}
}

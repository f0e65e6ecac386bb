package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort                     = "5000"
	defaultEnvFile                  = ".env"
	defaultClientURL                = "http://localhost:5173"
	defaultSessionCookieName        = "lexachat_session"
	defaultSessionTTLHours          = 168
	defaultGroqAPIURL               = "https://api.groq.com/openai/v1/chat/completions"
	defaultGeneralModel             = "meta-llama/llama-4-scout-17b-16e-instruct"
	defaultCodingModel              = "meta-llama/llama-4-maverick-17b-128e-instruct"
	defaultFallbackModel            = "openai/gpt-oss-120b"
	defaultCompletionTimeoutSeconds = 45
	defaultTavilyAPIURL             = "https://api.tavily.com/search"
	defaultSerperAPIURL             = "https://google.serper.dev/search"
	defaultDuckDuckGoAPIURL         = "https://api.duckduckgo.com/"
	defaultBraveAPIURL              = "https://api.search.brave.com/res/v1"
	defaultSearchTimeoutSeconds     = 10
	defaultSearchRatePerSecond      = 5
	defaultResendAPIURL             = "https://api.resend.com/emails"
	defaultSMTPPort                 = 587
	defaultChatRateLimit            = 30
	defaultChatRateWindowSeconds    = 60

	maxSearchProviders = 4
	writeTimeoutSlack  = 30 * time.Second
)

type Config struct {
	Port              string
	Environment       string
	ClientURL         string
	AllowedOrigins    []string
	AutoMigrate       bool
	CookieSecure      bool
	SessionCookieName string
	SessionTTL        time.Duration

	DatabaseURL    string
	TursoAuthToken string

	GoogleClientID string

	GroqAPIKey        string
	GroqAPIURL        string
	GeneralModel      string
	CodingModel       string
	FallbackModel     string
	CompletionTimeout time.Duration

	TavilyAPIKey        string
	TavilyAPIURL        string
	SerperAPIKey        string
	SerperAPIURL        string
	BraveAPIKey         string
	BraveAPIURL         string
	DuckDuckGoAPIURL    string
	SearchTimeout       time.Duration
	SearchRatePerSecond float64
	FAQFile             string

	ResendAPIKey         string
	ResendAPIURL         string
	ResendFrom           string
	SMTPHost             string
	SMTPPort             int
	SMTPUser             string
	SMTPPass             string
	SMTPFrom             string
	ResetPasswordURLBase string

	ChatRateLimit  int
	ChatRateWindow time.Duration

	LogLevel  string
	LogFormat string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ChatWriteTimeout bounds one chat request when every search provider times
// out and the completion needs its fallback attempt.
func (c Config) ChatWriteTimeout() time.Duration {
	return maxSearchProviders*c.SearchTimeout + 2*c.CompletionTimeout + writeTimeoutSlack
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// ClientBaseURL is the frontend origin used in emailed links.
func (c Config) ClientBaseURL() string {
	if base := strings.TrimRight(strings.TrimSpace(c.ResetPasswordURLBase), "/"); base != "" {
		return base
	}
	if base := strings.TrimRight(strings.TrimSpace(c.ClientURL), "/"); base != "" {
		return base
	}
	return defaultClientURL
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if err := readEnvFile(v, strings.TrimSpace(os.Getenv("ENV_FILE"))); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                 envOrDefault(v, "PORT", defaultPort),
		Environment:          firstNonEmpty(v, "APP_ENV", "NODE_ENV"),
		ClientURL:            envOrDefault(v, "CLIENT_URL", defaultClientURL),
		AutoMigrate:          boolOrDefault(v, "AUTO_MIGRATE", true),
		CookieSecure:         boolOrDefault(v, "COOKIE_SECURE", false),
		SessionCookieName:    envOrDefault(v, "SESSION_COOKIE_NAME", defaultSessionCookieName),
		DatabaseURL:          firstNonEmpty(v, "DATABASE_URL", "TURSO_DATABASE_URL"),
		TursoAuthToken:       envOrDefault(v, "TURSO_AUTH_TOKEN", ""),
		GoogleClientID:       envOrDefault(v, "GOOGLE_CLIENT_ID", ""),
		GroqAPIKey:           firstNonEmpty(v, "GROQ_API_KEY", "VITE_GROQ_API_KEY"),
		GroqAPIURL:           envOrDefault(v, "GROQ_API_URL", firstNonEmpty(v, "VITE_GROQ_API_URL")),
		GeneralModel:         envOrDefault(v, "GENERAL_MODEL", defaultGeneralModel),
		CodingModel:          envOrDefault(v, "CODING_MODEL", defaultCodingModel),
		FallbackModel:        envOrDefault(v, "FALLBACK_MODEL", defaultFallbackModel),
		TavilyAPIKey:         envOrDefault(v, "TAVILY_API_KEY", ""),
		TavilyAPIURL:         envOrDefault(v, "TAVILY_API_URL", defaultTavilyAPIURL),
		SerperAPIKey:         envOrDefault(v, "SERPER_API_KEY", ""),
		SerperAPIURL:         envOrDefault(v, "SERPER_API_URL", defaultSerperAPIURL),
		BraveAPIKey:          envOrDefault(v, "BRAVE_API_KEY", ""),
		BraveAPIURL:          envOrDefault(v, "BRAVE_API_URL", defaultBraveAPIURL),
		DuckDuckGoAPIURL:     envOrDefault(v, "DUCKDUCKGO_API_URL", defaultDuckDuckGoAPIURL),
		SearchRatePerSecond:  floatOrDefault(v, "SEARCH_RATE_PER_SECOND", defaultSearchRatePerSecond),
		FAQFile:              envOrDefault(v, "FAQ_FILE", ""),
		ResendAPIKey:         envOrDefault(v, "RESEND_API_KEY", ""),
		ResendAPIURL:         envOrDefault(v, "RESEND_API_URL", defaultResendAPIURL),
		ResendFrom:           firstNonEmpty(v, "RESEND_FROM", "EMAIL_FROM"),
		SMTPHost:             firstNonEmpty(v, "SMTP_HOST", "EMAIL_HOST"),
		SMTPUser:             firstNonEmpty(v, "SMTP_USER", "EMAIL_USER"),
		SMTPPass:             firstNonEmpty(v, "SMTP_PASS", "EMAIL_PASS"),
		SMTPFrom:             firstNonEmpty(v, "SMTP_FROM", "EMAIL_FROM", "SMTP_USER", "EMAIL_USER"),
		ResetPasswordURLBase: envOrDefault(v, "RESET_PASSWORD_URL_BASE", ""),
		ChatRateLimit:        intOrDefault(v, "CHAT_RATE_LIMIT", defaultChatRateLimit),
		LogLevel:             envOrDefault(v, "LOG_LEVEL", "info"),
		LogFormat:            envOrDefault(v, "LOG_FORMAT", ""),
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.IsProduction() {
		cfg.CookieSecure = true
		if cfg.LogFormat == "" {
			cfg.LogFormat = "json"
		}
	}
	if cfg.GroqAPIURL == "" {
		cfg.GroqAPIURL = defaultGroqAPIURL
	}

	cfg.SMTPPort = intOrDefault(v, "SMTP_PORT", intOrDefault(v, "EMAIL_PORT", defaultSMTPPort))
	cfg.CompletionTimeout = time.Duration(intOrDefault(v, "COMPLETION_TIMEOUT_SECONDS", defaultCompletionTimeoutSeconds)) * time.Second
	cfg.SearchTimeout = time.Duration(intOrDefault(v, "SEARCH_TIMEOUT_SECONDS", defaultSearchTimeoutSeconds)) * time.Second
	cfg.ChatRateWindow = time.Duration(intOrDefault(v, "CHAT_RATE_WINDOW_SECONDS", defaultChatRateWindowSeconds)) * time.Second

	sessionTTLHours := intOrDefault(v, "SESSION_TTL_HOURS", defaultSessionTTLHours)
	cfg.SessionTTL = time.Duration(sessionTTLHours) * time.Hour
	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("SESSION_TTL_HOURS must be > 0")
	}

	origins := parseList(envOrDefault(v, "CORS_ALLOWED_ORIGINS", cfg.ClientURL+",http://localhost:5173,http://127.0.0.1:5173,http://localhost:5174,http://127.0.0.1:5174"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, errors.New("COMPLETION_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.SearchTimeout <= 0 {
		return Config{}, errors.New("SEARCH_TIMEOUT_SECONDS must be > 0")
	}

	return cfg, nil
}

// readEnvFile merges an optional dotenv file below the process environment.
func readEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		path = defaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(v *viper.Viper, key, fallback string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(v *viper.Viper, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(v.GetString(key)); value != "" {
			return value
		}
	}
	return ""
}

func boolOrDefault(v *viper.Viper, key string, fallback bool) bool {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(v *viper.Viper, key string, fallback int) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(v *viper.Viper, key string, fallback float64) float64 {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

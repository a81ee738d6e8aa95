package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings holds every runtime knob, built once from the environment
type Settings struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins string

	AllowDemoRoutes bool

	AuthUsername             string
	AuthPassword             string
	AuthPasswordHash         string
	JWTSecretKey             string
	AccessTokenExpireMinutes int

	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string

	WebhookToken        string
	HistorySyncEnabled  bool
	HistorySyncLimit    int
	OutboundPushEnabled bool

	RiskRefreshMinutes int
	UseMemoryStore     bool
}

// Load builds Settings from environment variables with the documented
// defaults. godotenv runs before this in main.
func Load() *Settings {
	return &Settings{
		AppEnv:             strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", "development"))),
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8000,http://127.0.0.1:8000"),

		AllowDemoRoutes: asBool(os.Getenv("ALLOW_DEMO_ROUTES"), false),

		AuthUsername:             getEnv("APP_AUTH_USERNAME", "admin"),
		AuthPassword:             getEnv("APP_AUTH_PASSWORD", "change-me-now"),
		AuthPasswordHash:         os.Getenv("APP_AUTH_PASSWORD_HASH"),
		JWTSecretKey:             getEnv("JWT_SECRET_KEY", "replace-this-secret"),
		AccessTokenExpireMinutes: asInt(os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"), 480, 1),

		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),

		WebhookToken:        os.Getenv("WEBHOOK_TOKEN"),
		HistorySyncEnabled:  asBool(os.Getenv("HISTORY_SYNC_ENABLED"), true),
		HistorySyncLimit:    asInt(os.Getenv("HISTORY_SYNC_LIMIT"), 100, 1),
		OutboundPushEnabled: asBool(os.Getenv("OUTBOUND_PUSH_ENABLED"), true),

		RiskRefreshMinutes: asInt(os.Getenv("RISK_REFRESH_MINUTES"), 5, 1),
		UseMemoryStore:     asBool(os.Getenv("USE_MEMORY_STORE"), false),
	}
}

// ValidateRuntimeSecurity refuses to boot production with default secrets
func (s *Settings) ValidateRuntimeSecurity() error {
	if s.AppEnv != "production" {
		return nil
	}
	if s.AuthPassword == "change-me-now" && s.AuthPasswordHash == "" {
		return fmt.Errorf("APP_AUTH_PASSWORD must be changed in production")
	}
	if s.JWTSecretKey == "replace-this-secret" {
		return fmt.Errorf("JWT_SECRET_KEY must be configured in production")
	}
	return nil
}

func getEnv(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func asBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func asInt(value string, fallback, min int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	if parsed < min {
		return min
	}
	return parsed
}

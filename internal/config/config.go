package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Sync         SyncConfig
	Incident     IncidentConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// SyncConfig controls the ticket-system reconciliation engine.
type SyncConfig struct {
	Enabled            bool
	GuardTTLSeconds    int
	TicketBaseURL      string
	TicketAPIToken     string
	TicketProjectKey   string
	WebhookSecret      string
	HTTPTimeoutSeconds int
}

// GuardTTL returns the loop-guard marker lifetime.
func (s SyncConfig) GuardTTL() time.Duration {
	if s.GuardTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.GuardTTLSeconds) * time.Second
}

// IncidentConfig carries lifecycle policy that is static per deployment.
type IncidentConfig struct {
	RequiredMilestones []string
	MetricDefinitions  []domain.MetricDefinition
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	metricDefs, err := parseMetricDefinitions(getEnv("INCIDENT_METRIC_DEFINITIONS",
		"time_to_detect=detected:declared,time_to_recover=recovered:detected"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "incident-sync-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Sync: SyncConfig{
			Enabled:            getEnvAsBool("SYNC_ENABLED", true),
			GuardTTLSeconds:    getEnvAsInt("SYNC_GUARD_TTL_SECONDS", 30),
			TicketBaseURL:      getEnv("TICKET_BASE_URL", ""),
			TicketAPIToken:     os.Getenv("TICKET_API_TOKEN"),
			TicketProjectKey:   getEnv("TICKET_PROJECT_KEY", "INC"),
			WebhookSecret:      os.Getenv("TICKET_WEBHOOK_SECRET"),
			HTTPTimeoutSeconds: getEnvAsInt("TICKET_HTTP_TIMEOUT_SECONDS", 10),
		},
		Incident: IncidentConfig{
			RequiredMilestones: splitCSV(getEnv("INCIDENT_REQUIRED_MILESTONES", "detected")),
			MetricDefinitions:  metricDefs,
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// parseMetricDefinitions parses "name=lhs:rhs" pairs separated by commas.
func parseMetricDefinitions(raw string) ([]domain.MetricDefinition, error) {
	defs := []domain.MetricDefinition{}
	for _, part := range splitCSV(raw) {
		name, operands, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid metric definition %q", part)
		}
		lhs, rhs, ok := strings.Cut(operands, ":")
		if !ok || lhs == "" || rhs == "" {
			return nil, fmt.Errorf("invalid metric definition %q", part)
		}
		defs = append(defs, domain.MetricDefinition{
			Name:     strings.TrimSpace(name),
			LHSEvent: strings.TrimSpace(lhs),
			RHSEvent: strings.TrimSpace(rhs),
		})
	}
	return defs, nil
}

func splitCSV(raw string) []string {
	parts := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

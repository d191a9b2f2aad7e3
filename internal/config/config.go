package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Directus
	DirectusURL string
	// DirectusRegistrationToken is a static token allowed to create users.
	// Empty means public registration.
	DirectusRegistrationToken string

	// Role ids
	PendingRole string
	BasicRole   string
	AdminRole   string

	// Domains
	RootDomain      string
	BudgetSubdomain string

	// Sessions
	SessionBackend string
	SQLiteDBPath   string
	SessionTTL     time.Duration
	MaxSessions    int
	CookieSecure   bool

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Rate limiting
	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DirectusURL:               getEnv("DIRECTUS_URL", "http://localhost:8055"),
		DirectusRegistrationToken: getEnv("DIRECTUS_REGISTRATION_TOKEN", ""),

		PendingRole: getEnv("PENDING_ROLE", ""),
		BasicRole:   getEnv("BASIC_ROLE", ""),
		AdminRole:   getEnv("ADMIN_ROLE", ""),

		RootDomain:      getEnv("ROOT_DOMAIN", "localhost"),
		BudgetSubdomain: getEnv("BUDGET_SUBDOMAIN", "budget"),

		SessionBackend: getEnv("SESSION_BACKEND", "memory"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/wade.db"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		MaxSessions:    getEnvInt("MAX_SESSIONS", 10000),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "wade"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "registrations"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 30),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := c.SlogLevel(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.DirectusURL == "" {
		errors = append(errors, "DIRECTUS_URL is required")
	} else if u, err := url.Parse(c.DirectusURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid Directus URL '%s': %v", c.DirectusURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid Directus URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	}

	for name, role := range map[string]string{
		"PENDING_ROLE": c.PendingRole,
		"BASIC_ROLE":   c.BasicRole,
		"ADMIN_ROLE":   c.AdminRole,
	} {
		if strings.TrimSpace(role) == "" {
			errors = append(errors, fmt.Sprintf("%s is required", name))
		}
	}

	if c.RootDomain == "" {
		errors = append(errors, "ROOT_DOMAIN cannot be empty")
	} else if strings.ContainsAny(c.RootDomain, "/: ") {
		errors = append(errors, fmt.Sprintf("invalid root domain '%s': must be a bare host name", c.RootDomain))
	}
	if strings.ContainsAny(c.BudgetSubdomain, "./: ") || c.BudgetSubdomain == "" {
		errors = append(errors, fmt.Sprintf("invalid budget sub-domain '%s': must be a single label", c.BudgetSubdomain))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.SessionBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid session backend '%s': must be one of %v", c.SessionBackend, validBackends))
	}

	if c.SessionBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	} else if c.SessionTTL > 30*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at most 30 days", c.SessionTTL))
	}
	if c.MaxSessions < 1 {
		errors = append(errors, fmt.Sprintf("invalid max sessions %d: must be at least 1", c.MaxSessions))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// BudgetHost is the host name serving the budget site.
func (c *Config) BudgetHost() string {
	return c.BudgetSubdomain + "." + c.RootDomain
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

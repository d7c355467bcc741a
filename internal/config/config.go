package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinEncryptionKeyLength is the minimum accepted length of MCP_ENCRYPTION_KEY.
const MinEncryptionKeyLength = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Logging configuration
	LogLevel string

	// Persistence
	DatabasePath string

	// Secrets
	EncryptionKey    string
	CacheTokenSecret string

	// Slack configuration
	SlackBotToken      string
	SlackSigningSecret string

	// REST API authentication (optional)
	APIJWTSecret       string
	Auth0Domain        string
	Auth0Audience      string
	CORSAllowedOrigins []string

	// Audit configuration
	AWSRegion          string
	AuditDynamoDBTable string

	// MCP configuration subsystem
	VerifyTimeout time.Duration
	DNSTimeout    time.Duration
	VerifyWorkers int
	JobQueueSize  int
	TemplatesFile string
}

// New creates a new Config instance by loading environment variables
// from .env file (if present) and OS environment.
// Panics if required configuration values are missing or invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Load reads the .env file (silently ignored if not found) and the OS
// environment, and returns a validated Config.
// OS environment variables take precedence over .env file values.
func Load() (*Config, error) {
	return load(true)
}

// LoadAdmin is Load for operator tooling, which never talks to Slack and so
// does not require the Slack credentials.
func LoadAdmin() (*Config, error) {
	return load(false)
}

func load(requireSlack bool) (*Config, error) {
	_ = godotenv.Load(filepath.Join(".", ".env"))

	verifyTimeout, err := getDurationOrDefault("MCP_VERIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	dnsTimeout, err := getDurationOrDefault("URL_DNS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	workers, err := getIntOrDefault("VERIFY_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	queueSize, err := getIntOrDefault("JOB_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "3000"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),

		DatabasePath: getEnvOrDefault("DATABASE_PATH", "gengar.db"),

		EncryptionKey:    os.Getenv("MCP_ENCRYPTION_KEY"),
		CacheTokenSecret: os.Getenv("CACHE_TOKEN_SECRET"),

		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),

		APIJWTSecret:  os.Getenv("API_JWT_SECRET"),
		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		AWSRegion:          getEnvOrDefault("AWS_REGION", "us-east-1"),
		AuditDynamoDBTable: os.Getenv("AUDIT_DYNAMODB_TABLE"),

		VerifyTimeout: verifyTimeout,
		DNSTimeout:    dnsTimeout,
		VerifyWorkers: workers,
		JobQueueSize:  queueSize,
		TemplatesFile: os.Getenv("MCP_TEMPLATES_FILE"),
	}

	if err := cfg.validate(requireSlack); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that all required configuration values are present and valid
func (c *Config) validate(requireSlack bool) error {
	var missing []string

	if c.EncryptionKey == "" {
		missing = append(missing, "MCP_ENCRYPTION_KEY")
	}
	if requireSlack && c.SlackBotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}
	if requireSlack && c.SlackSigningSecret == "" {
		missing = append(missing, "SLACK_SIGNING_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration values: %v", missing)
	}

	if len(c.EncryptionKey) < MinEncryptionKeyLength {
		return fmt.Errorf("MCP_ENCRYPTION_KEY must be at least %d characters (got %d)", MinEncryptionKeyLength, len(c.EncryptionKey))
	}

	if c.VerifyTimeout <= 0 {
		return errors.New("MCP_VERIFY_TIMEOUT must be positive")
	}
	if c.DNSTimeout <= 0 {
		return errors.New("URL_DNS_TIMEOUT must be positive")
	}
	if c.VerifyWorkers < 1 {
		return fmt.Errorf("VERIFY_WORKERS must be at least 1 (got %d)", c.VerifyWorkers)
	}
	if c.JobQueueSize < 1 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be at least 1 (got %d)", c.JobQueueSize)
	}

	return nil
}

// APIEnabled reports whether the REST API has an authentication mode configured.
func (c *Config) APIEnabled() bool {
	return c.APIJWTSecret != "" || c.Auth0Domain != ""
}

// AuditToDynamoDB reports whether audit records are also written to DynamoDB.
func (c *Config) AuditToDynamoDB() bool {
	return strings.TrimSpace(c.AuditDynamoDBTable) != ""
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma separated list, dropping empty entries
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

// Package config loads the storefront settings from the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Mail providers
const (
	MailPostmark = "postmark"
	MailSendGrid = "sendgrid"
	MailLog      = "log"
)

// Config holds every setting read at startup
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	JWTSecret   string

	StoreBackend  string
	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	RabbitURI   string
	OrdersQueue string

	MailProvider     string
	PostmarkToken    string
	SendGridKey      string
	EmailSender      string
	PublicBaseURL    string
	UploadDir        string
	SessionIdleLimit time.Duration
}

// Development reports whether the server runs outside production
func (c Config) Development() bool {
	return c.Environment != "production"
}

// Load reads .env files when present, then the environment. A missing .env
// is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading env file: %w", err)
	}
	return FromEnv()
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// FromEnv builds a Config from environment variables and validates it
func FromEnv() (Config, error) {
	c := Config{
		Port:          env("PORT", "8000"),
		Environment:   env("ENVIRONMENT", "development"),
		LogLevel:      env("LOG_LEVEL", "info"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		StoreBackend:  env("STORE_BACKEND", BackendMemory),
		MongoURI:      env("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: env("MONGODB_DATABASE", "myteddy"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RabbitURI:     os.Getenv("RABBITMQ_URI"),
		OrdersQueue:   env("ORDERS_QUEUE", "orders"),
		MailProvider:  env("MAIL_PROVIDER", MailLog),
		PostmarkToken: os.Getenv("POSTMARK_API_TOKEN"),
		SendGridKey:   os.Getenv("SENDGRID_API_KEY"),
		EmailSender:   env("EMAIL_SENDER", "hello@myteddy.shop"),
		UploadDir:     env("UPLOAD_DIR", "uploads"),
	}
	c.PublicBaseURL = strings.TrimRight(env("PUBLIC_BASE_URL", "http://localhost:"+c.Port), "/")

	idle, err := time.ParseDuration(env("SESSION_IDLE_TIMEOUT", "30m"))
	if err != nil {
		return Config{}, fmt.Errorf("parsing SESSION_IDLE_TIMEOUT: %w", err)
	}
	c.SessionIdleLimit = idle

	return c, c.Validate()
}

// Validate checks that the selected backends have what they need
func (c Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	switch c.StoreBackend {
	case BackendMemory, BackendMongo:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.MailProvider {
	case MailLog:
	case MailPostmark:
		if c.PostmarkToken == "" {
			problems = append(problems, "POSTMARK_API_TOKEN is required for postmark")
		}
	case MailSendGrid:
		if c.SendGridKey == "" {
			problems = append(problems, "SENDGRID_API_KEY is required for sendgrid")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown MAIL_PROVIDER %q", c.MailProvider))
	}
	if c.SessionIdleLimit <= 0 {
		problems = append(problems, "SESSION_IDLE_TIMEOUT must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Package config provides centralized configuration management for the
// pipeline. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration. Components receive the loaded Config by reference and
// never read ambient environment state directly.
package config

import (
	"fmt"
	"time"
)

// DevelopmentStorageSentinel in the storage connection descriptor selects a
// fixed, well-known local identity instead of real account credentials.
const DevelopmentStorageSentinel = "UseDevelopmentStorage=true"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Records RecordStoreConfig
	Ingest  IngestConfig
	Rate    RateLimitConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StorageConfig holds object-store settings.
type StorageConfig struct {
	// Connection is the storage connection descriptor: either the literal
	// development sentinel or semicolon-delimited key=value pairs carrying
	// AccountName, AccountKey and optionally Endpoint.
	// Required at issuance time; its value is never logged.
	Connection string `env:"STORAGE_CONNECTION" envAlt:"STORAGE_CONNECTION_STRING"`

	// Bucket is the container uploads land in (default: uploads)
	Bucket string `env:"STORAGE_BUCKET" default:"uploads"`

	// Region for the object store client (default: us-east-1)
	Region string `env:"STORAGE_REGION" default:"us-east-1"`

	// CredentialTTL is the validity window of issued upload credentials
	// (default: 10m)
	CredentialTTL time.Duration `env:"CREDENTIAL_TTL" default:"10m"`

	// LANAddress, when set, replaces loopback hosts in issued upload URLs
	// so devices on the same network can reach a local object store.
	LANAddress string `env:"LAN_ADDRESS"`
}

// RecordStoreConfig holds document-store settings for marks and the
// processing-status ledger.
type RecordStoreConfig struct {
	// Driver selects the backing store: dynamodb or postgres (default: dynamodb)
	Driver string `env:"RECORD_STORE_DRIVER" default:"dynamodb"`

	// Endpoint overrides the record-store endpoint (local DynamoDB etc.)
	Endpoint string `env:"RECORD_ENDPOINT"`

	// Region for the record-store client (default: us-east-1)
	Region string `env:"RECORD_REGION" default:"us-east-1"`

	// AccessKey/SecretKey are static credentials for the record store.
	// When empty the ambient credential chain is used.
	AccessKey string `env:"RECORD_ACCESS_KEY"`
	SecretKey string `env:"RECORD_SECRET_KEY"`

	// MarksTable holds one row per student per class/subject (default: student_marks)
	MarksTable string `env:"RECORD_MARKS_TABLE" default:"student_marks"`

	// StatusTable is the idempotency ledger (default: csv_processing_status)
	StatusTable string `env:"RECORD_STATUS_TABLE" default:"csv_processing_status"`

	// DatabaseURL is the PostgreSQL connection string (postgres driver only)
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the pgx pool size for the postgres driver (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`
}

// IngestConfig holds CSV ingestion settings.
type IngestConfig struct {
	// MarksPolicy decides what a non-numeric marks cell does: "reject"
	// fails the run, "zero" coerces the cell to 0 (default: reject)
	MarksPolicy string `env:"INGEST_MARKS_POLICY" default:"reject"`

	// EventPrefix filters storage-change events to keys under this prefix.
	EventPrefix string `env:"EVENT_KEY_PREFIX"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks cross-field constraints Load cannot express with tags.
func (c *Config) Validate() error {
	switch c.Records.Driver {
	case "dynamodb":
		if c.Records.MarksTable == "" || c.Records.StatusTable == "" {
			return fmt.Errorf("record store tables must not be empty")
		}
	case "postgres":
		if c.Records.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres record store driver")
		}
	default:
		return fmt.Errorf("unknown record store driver %q", c.Records.Driver)
	}

	switch c.Ingest.MarksPolicy {
	case "reject", "zero":
	default:
		return fmt.Errorf("INGEST_MARKS_POLICY must be reject or zero, got %q", c.Ingest.MarksPolicy)
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket must not be empty")
	}
	if c.Storage.CredentialTTL <= 0 {
		return fmt.Errorf("credential TTL must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// Package config defines the configuration structure for the orderpulse
// service. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"orderpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used in configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"orderpulse"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	AWS      AWSConfig
	Jobs     JobsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// CacheConfig holds the job status cache (Redis) settings.
type CacheConfig struct {
	RedisURL SecretString `envconfig:"REDIS_URL" validate:"required"`

	// JobStatusTTL is the retention window for published job status records.
	// An absent record after expiry means "no recent run", not an error.
	JobStatusTTL time.Duration `envconfig:"JOB_STATUS_TTL" default:"168h"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// AggregationQueue is the SQS queue carrying on-demand aggregation
	// payloads to the aggregator worker.
	AggregationQueue string `envconfig:"SQS_AGGREGATION_QUEUE" validate:"required,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// JobsConfig holds scheduled-job tuning parameters.
type JobsConfig struct {
	// CustomerPageSize is the number of customers fetched per page during
	// the all-customers lifetime aggregation.
	CustomerPageSize int `envconfig:"CUSTOMER_PAGE_SIZE" default:"100"`

	// UpsertBatchSize bounds the number of lifetime metric upserts issued
	// per write batch.
	UpsertBatchSize int `envconfig:"UPSERT_BATCH_SIZE" default:"50"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

package config

import (
	"time"

	"github.com/vietddude/resilient/internal/infra/amqp"
	redisclient "github.com/vietddude/resilient/internal/infra/redis"
	"github.com/vietddude/resilient/internal/infra/storage/postgres"
	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/telemetry"
)

// Dead-letter backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Consumer   ConsumerConfig     `yaml:"consumer"`
	AMQP       amqp.Config        `yaml:"amqp"`
	Retry      RetryConfig        `yaml:"retry"`
	Reconnect  RetryConfig        `yaml:"reconnect"`
	Publish    RetryConfig        `yaml:"publish"`
	DeadLetter DeadLetterConfig   `yaml:"dead_letter"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	RPC        RPCConfig          `yaml:"rpc"`
	Tracing    telemetry.Config   `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// HealthInterval bounds how often dependencies are probed.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ConsumerConfig holds settings for the supervised consumer.
type ConsumerConfig struct {
	Name             string `yaml:"name"`
	RequeueOnFailure bool   `yaml:"requeue_on_failure"`
}

// RetryConfig is the YAML form of a backoff policy. Zero fields take the
// defaults of backoff.Default.
type RetryConfig struct {
	InitialInterval     time.Duration `yaml:"initial_interval"`
	Multiplier          float64       `yaml:"multiplier"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	MaxElapsedTime      time.Duration `yaml:"max_elapsed_time"`
	MaxAttempts         int           `yaml:"max_attempts"`
	RandomizationFactor *float64      `yaml:"randomization_factor"`
	// Unbounded drops the default elapsed-time budget when no limit is set.
	Unbounded bool `yaml:"unbounded"`
}

// Policy converts the config to a backoff policy.
func (c RetryConfig) Policy() backoff.Policy {
	p := backoff.Default()
	if c.InitialInterval > 0 {
		p.InitialInterval = c.InitialInterval
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval
	}
	if c.MaxElapsedTime > 0 {
		p.MaxElapsedTime = c.MaxElapsedTime
	} else if c.Unbounded {
		p.MaxElapsedTime = 0
	}
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.RandomizationFactor != nil {
		p.RandomizationFactor = *c.RandomizationFactor
	}
	return p
}

// DeadLetterConfig selects where rejected messages are stored.
type DeadLetterConfig struct {
	Backend string `yaml:"backend"` // none, memory (default), redis, postgres
	// Retention deletes resolved records older than this, 0 keeps them.
	// Redis records expire by redis.ttl instead.
	Retention time.Duration `yaml:"retention"`
}

// RPCConfig holds endpoints for outbound calls made by handlers.
type RPCConfig struct {
	HTTPEndpoint string        `yaml:"http_endpoint"`
	GRPCEndpoint string        `yaml:"grpc_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
}

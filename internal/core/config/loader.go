package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/resilient/internal/infra/rpc"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalStrict([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored.
func LoadEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.HealthInterval == 0 {
		cfg.Server.HealthInterval = 10 * time.Second
	}
	if cfg.Consumer.Name == "" {
		cfg.Consumer.Name = cfg.AMQP.Queue
	}
	if cfg.DeadLetter.Backend == "" {
		cfg.DeadLetter.Backend = BackendMemory
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = rpc.DefaultTimeout
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "resilient"
	}
}

// Validate checks cross-section constraints.
func (c *AppConfig) Validate() error {
	switch c.DeadLetter.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("dead_letter backend redis requires redis.url")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("dead_letter backend postgres requires database.url")
		}
	default:
		return fmt.Errorf("unknown dead_letter backend %q", c.DeadLetter.Backend)
	}

	for name, rc := range map[string]RetryConfig{"retry": c.Retry, "reconnect": c.Reconnect, "publish": c.Publish} {
		if err := rc.Policy().Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

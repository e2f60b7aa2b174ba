package amqp

import (
	"errors"
	"time"
)

// Default values.
const (
	DefaultExchangeType = "topic"
	DefaultDialTimeout  = 10 * time.Second
	DefaultHeartbeat    = 10 * time.Second
	DefaultPrefetch     = 1
)

var (
	ErrNoURL        = errors.New("amqp: no broker url configured")
	ErrNoQueue      = errors.New("amqp: queue name cannot be empty")
	ErrNotConnected = errors.New("amqp: client not connected")
)

// Config configures the broker connection and the topology the consumer
// relies on. Exchange and bindings are optional; an empty exchange consumes
// straight from the queue.
type Config struct {
	URL          string        `yaml:"url"`
	Exchange     string        `yaml:"exchange"`
	ExchangeType string        `yaml:"exchange_type"`
	Queue        string        `yaml:"queue"`
	RoutingKeys  []string      `yaml:"routing_keys"`
	ConsumerTag  string        `yaml:"consumer_tag"`
	Prefetch     int           `yaml:"prefetch"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	Heartbeat    time.Duration `yaml:"heartbeat"`

	// DeadLetterExchange is set as x-dead-letter-exchange on the queue so
	// rejected messages are routed there by the broker.
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// Validate checks the config for errors. A queue is only required to consume.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrNoURL
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ExchangeType == "" {
		c.ExchangeType = DefaultExchangeType
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Prefetch <= 0 {
		c.Prefetch = DefaultPrefetch
	}
	return c
}

// Package messaging moves protocol envelopes over MQTT or Kafka and
// republishes envelopes that were parked in the store outbox.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"wwcpsync/config"
)

// broker is one messaging backend. Client serializes access to it.
type broker interface {
	connect(topics []string) error
	publish(ctx context.Context, topic string, payload []byte) error
	subscribe(topic string, handler func(payload []byte)) error
	connected() bool
	close()
}

// Client is the unified messaging client. The backend is fixed at
// construction from MessagingConfig.Backend.
type Client struct {
	mu      sync.RWMutex
	backend string
	broker  broker
	logger  *slog.Logger
}

func NewClient(cfg *config.MessagingConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{backend: cfg.Backend, logger: logger}
	switch cfg.Backend {
	case "mqtt":
		c.broker = &mqttBroker{cfg: cfg.MQTT}
	case "kafka":
		c.broker = newKafkaBroker(cfg.Kafka, logger)
	}
	return c
}

func (c *Client) unknown() error {
	return fmt.Errorf("unknown messaging backend: %q", c.backend)
}

// Connect opens the backend connection. Kafka creates any of topics that
// do not exist yet.
func (c *Client) Connect(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broker == nil {
		return c.unknown()
	}
	return c.broker.connect(topics)
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishContext(context.Background(), topic, payload)
}

// PublishContext sends payload to topic, giving up when ctx ends.
func (c *Client) PublishContext(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.broker == nil {
		return c.unknown()
	}
	return c.broker.publish(ctx, topic, payload)
}

// PublishEnvelope encodes env and publishes it to topic.
func (c *Client) PublishEnvelope(ctx context.Context, topic string, env interface{ Encode() ([]byte, error) }) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.PublishContext(ctx, topic, data)
}

// Subscribe delivers every message on topic to handler. Handlers run on
// the backend's goroutine and must not block for long.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broker == nil {
		return c.unknown()
	}
	return c.broker.subscribe(topic, handler)
}

func (c *Client) Backend() string { return c.backend }

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broker != nil && c.broker.connected()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broker != nil {
		c.broker.close()
	}
}

package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single process) or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `env:"TYPE" envDefault:"channel"`

	// Channel settings
	ChannelBufferSize int `env:"CHANNEL_BUFFER_SIZE" envDefault:"1000"`

	// NATS settings
	NATSUrl           string `env:"NATS_URL"`
	NATSToken         string `env:"NATS_TOKEN"`
	NATSMaxReconnects int    `env:"NATS_MAX_RECONNECTS" envDefault:"10"`
	NATSReconnectWait int    `env:"NATS_RECONNECT_WAIT" envDefault:"5"` // seconds

	// SubjectPrefix namespaces NATS subjects so deployments can share a server.
	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"tidepoint"`
}

// Standard topic names.
const (
	TopicPurchaseIngested = "marketplace.purchase.ingested"
	TopicLoyaltyRecorded  = "marketplace.loyalty.recorded"
	TopicCacheInvalidated = "marketplace.cache.invalidated"
)

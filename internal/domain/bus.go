package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require sessionID for strict per-session isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, sessionID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, sessionID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, sessionID string, topic string, payload []byte) ([]byte, error)

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
	SessionID string            `json:"sessionId"`
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
	Type string `env:"KESTREL_BUS_TYPE" envDefault:"channel"`

	// Channel settings (Community tier)
	ChannelBufferSize int `env:"KESTREL_BUS_BUFFER_SIZE" envDefault:"1000"`

	// NATS settings (Pro tier)
	NATSUrl           string `env:"KESTREL_NATS_URL"`
	NATSToken         string `env:"KESTREL_NATS_TOKEN"`
	NATSMaxReconnects int    `env:"KESTREL_NATS_MAX_RECONNECTS" envDefault:"10"`
	NATSReconnectWait int    `env:"KESTREL_NATS_RECONNECT_WAIT" envDefault:"5"` // seconds
}

// Standard topic names for the validation pipeline. The bus
// implementations add their own namespace and session prefixes.
const (
	TopicBatchIngested  = "batch.ingested"
	TopicBatchValidated = "batch.validated"
	TopicPolicyUpdated  = "policy.updated"
	TopicAnomalyAlert   = "anomaly.alert"
)

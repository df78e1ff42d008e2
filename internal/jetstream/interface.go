package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the NATS surface used by job intake and alerting.
type ClientInterface interface {
	// SetupStream ensures the stream exists with the given configuration
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// QueueSubscribe subscribes on core NATS so replicas share request/reply traffic
	QueueSubscribe(subject, group string, handler nats.MsgHandler) (*nats.Subscription, error)

	// Publish publishes a message into a stream with optional headers
	Publish(subject string, data []byte, headers map[string]string) error

	// Drain unsubscribes and waits for in-flight callbacks before closing
	Drain() error

	// Close closes the NATS connection
	Close()

	// NatsConn returns the underlying *nats.Conn
	NatsConn() *nats.Conn
}

package domain

import (
	"context"
	"time"
)

// BrokerMessage is one message received from the shared broker.
type BrokerMessage struct {
	Channel string
	Payload []byte
}

// Broker is the shared pub/sub transport used for cross-process fan-out.
// The Redis implementation lives in internal/bridge; tests substitute an
// in-memory fake.
type Broker interface {
	// Publish sends a payload to every subscriber of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers interest in additional channels.
	Subscribe(ctx context.Context, channels ...string) error

	// Unsubscribe drops interest in channels.
	Unsubscribe(ctx context.Context, channels ...string) error

	// Receive blocks for at most timeout waiting for the next message.
	// Fails with ErrReceiveTimeout when no message arrived in time.
	Receive(ctx context.Context, timeout time.Duration) (*BrokerMessage, error)

	// Close releases the broker connection.
	Close() error
}

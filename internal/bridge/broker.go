// Package bridge relays workspace broadcasts between this process and its
// siblings over a shared Redis pub/sub broker, so a broadcast reaches every
// connected client regardless of which process holds the socket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/harborview/realtime/internal/domain"
)

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// RedisBroker implements domain.Broker over a go-redis pub/sub connection.
type RedisBroker struct {
	client *goredis.Client
	pubsub *goredis.PubSub
}

// NewRedisBroker creates a broker with no initial subscriptions.
func NewRedisBroker(ctx context.Context, client *goredis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		pubsub: client.Subscribe(ctx),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) error {
	return b.pubsub.Subscribe(ctx, channels...)
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, channels ...string) error {
	return b.pubsub.Unsubscribe(ctx, channels...)
}

// Receive waits up to timeout for the next payload message. Subscription
// confirmations and pongs yield a nil message so the caller can keep
// polling on a bounded wait.
func (b *RedisBroker) Receive(ctx context.Context, timeout time.Duration) (*domain.BrokerMessage, error) {
	raw, err := b.pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, domain.ErrReceiveTimeout
		}
		return nil, err
	}

	switch m := raw.(type) {
	case *goredis.Message:
		return &domain.BrokerMessage{Channel: m.Channel, Payload: []byte(m.Payload)}, nil
	default:
		return nil, nil
	}
}

func (b *RedisBroker) Close() error {
	return b.pubsub.Close()
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/harborview/realtime/internal/domain"
	"github.com/harborview/realtime/internal/logging"
	"github.com/harborview/realtime/internal/metrics"
	"github.com/harborview/realtime/internal/protocol"
	"github.com/harborview/realtime/internal/realtime"
)

const (
	channelPrefix  = "workspace:"
	receiveTimeout = 1 * time.Second
	retryBackoff   = 5 * time.Second
)

func workspaceChannel(workspaceID string) string {
	return channelPrefix + workspaceID
}

// wireMessage is the broker payload. Origin identifies the publishing
// process so the bridge can drop its own messages on receipt; without the
// filter a local broadcast would be delivered twice to local sockets.
type wireMessage struct {
	Origin   string            `json:"origin"`
	Envelope protocol.Envelope `json:"envelope"`
}

// Bridge keeps workspace broadcasts consistent across processes. It
// publishes local events to the broker and feeds remote events into the
// local Manager; it is the only path by which a remote event reaches a
// local socket.
type Bridge struct {
	broker  domain.Broker
	manager *realtime.Manager
	clock   clockwork.Clock
	origin  string

	mu         sync.Mutex
	workspaces map[string]struct{}
}

// New creates a bridge with a fresh origin id for this process.
func New(broker domain.Broker, manager *realtime.Manager, clock clockwork.Clock) *Bridge {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bridge{
		broker:     broker,
		manager:    manager,
		clock:      clock,
		origin:     uuid.NewString(),
		workspaces: make(map[string]struct{}),
	}
}

// Publish sends an envelope to every sibling process subscribed to the
// workspace. Implements realtime.EnvelopePublisher.
func (b *Bridge) Publish(ctx context.Context, workspaceID string, envelope protocol.Envelope) error {
	data, err := json.Marshal(wireMessage{Origin: b.origin, Envelope: envelope})
	if err != nil {
		return fmt.Errorf("failed to marshal wire message: %w", err)
	}
	if err := b.broker.Publish(ctx, workspaceChannel(workspaceID), data); err != nil {
		return fmt.Errorf("failed to publish to broker: %w", err)
	}
	metrics.PubSubPublished.Inc()
	return nil
}

// SubscribeWorkspace registers interest in a workspace's channel.
// Idempotent.
func (b *Bridge) SubscribeWorkspace(ctx context.Context, workspaceID string) {
	b.mu.Lock()
	if _, ok := b.workspaces[workspaceID]; ok {
		b.mu.Unlock()
		return
	}
	b.workspaces[workspaceID] = struct{}{}
	b.mu.Unlock()

	if err := b.broker.Subscribe(ctx, workspaceChannel(workspaceID)); err != nil {
		logging.WithWorkspace(workspaceID).Error("Failed to subscribe to workspace channel", "error", err)
	}
}

// UnsubscribeWorkspace drops interest in a workspace's channel.
func (b *Bridge) UnsubscribeWorkspace(ctx context.Context, workspaceID string) {
	b.mu.Lock()
	if _, ok := b.workspaces[workspaceID]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.workspaces, workspaceID)
	b.mu.Unlock()

	if err := b.broker.Unsubscribe(ctx, workspaceChannel(workspaceID)); err != nil {
		logging.WithWorkspace(workspaceID).Error("Failed to unsubscribe from workspace channel", "error", err)
	}
}

// Listen polls the broker until ctx is cancelled. The bounded receive
// keeps shutdown responsive; broker errors are logged and retried after a
// fixed backoff, so a transient outage never kills the loop.
func (b *Bridge) Listen(ctx context.Context) {
	slog.Info("Bridge listening", "origin", b.origin)

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := b.broker.Receive(ctx, receiveTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrReceiveTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			metrics.PubSubErrors.Inc()
			slog.Error("Broker receive failed, retrying",
				"error", err,
				"backoff", retryBackoff,
			)
			select {
			case <-ctx.Done():
				return
			case <-b.clock.After(retryBackoff):
			}
			continue
		}
		if msg == nil {
			continue
		}
		b.handleMessage(msg)
	}
}

// handleMessage recovers the workspace id from the channel name and fans
// the envelope out to local connections. Self-originated messages are
// dropped; their local fan-out already happened at publish time.
func (b *Bridge) handleMessage(msg *domain.BrokerMessage) {
	workspaceID, ok := strings.CutPrefix(msg.Channel, channelPrefix)
	if !ok || workspaceID == "" {
		metrics.PubSubReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Ignoring message on unexpected channel", "channel", msg.Channel)
		return
	}

	var wire wireMessage
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		metrics.PubSubReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Failed to unmarshal broker message",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}

	if wire.Origin == b.origin {
		metrics.PubSubReceived.WithLabelValues("self").Inc()
		return
	}

	metrics.PubSubReceived.WithLabelValues("delivered").Inc()
	b.manager.BroadcastToWorkspace(workspaceID, wire.Envelope, nil)
}

// Close releases the broker connection.
func (b *Bridge) Close() error {
	return b.broker.Close()
}

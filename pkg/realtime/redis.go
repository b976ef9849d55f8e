package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/brightpath/pdcore/pkg/access"
	"github.com/brightpath/pdcore/pkg/observability"
)

// DefaultChannel is the Redis pub/sub channel access events travel on
const DefaultChannel = "pdcore:access:events"

// envelope wraps an event with the publishing instance so subscribers can
// skip their own messages
type envelope struct {
	InstanceID string       `json:"instance_id"`
	Event      access.Event `json:"event"`
}

// RedisBridge propagates access events between service instances over Redis
// pub/sub. Each instance publishes its local events and, on receiving a
// foreign one, drops its matrix cache and re-broadcasts to its own sessions.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	cache      *access.Cache
	hub        *Hub
	logger     *observability.Logger
}

// NewRedisBridge creates a bridge over client. channel may be empty to use
// DefaultChannel.
func NewRedisBridge(client *redis.Client, channel string, cache *access.Cache, hub *Hub, logger *observability.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisBridge{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		cache:      cache,
		hub:        hub,
		logger:     logger.WithField("channel", channel),
	}
}

// InstanceID returns this bridge's unique publisher identity
func (b *RedisBridge) InstanceID() string {
	return b.instanceID
}

// Publish sends evt to the channel so other instances invalidate too
func (b *RedisBridge) Publish(ctx context.Context, evt access.Event) error {
	payload, err := json.Marshal(envelope{InstanceID: b.instanceID, Event: evt})
	if err != nil {
		return fmt.Errorf("failed to encode event envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run subscribes and processes foreign events until ctx is cancelled. It is
// meant to run in its own goroutine; subscription errors end the loop and
// are returned.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Fail fast if the subscription never established
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.logger.Info("redis event bridge running")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, open := <-ch:
			if !open {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			b.handleMessage(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) handleMessage(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.WithError(err).Warn("discarding malformed event envelope")
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	// Another instance changed the configuration: drop the local snapshot
	// and tell local sessions to refetch.
	b.cache.Invalidate()
	if err := b.hub.Broadcast(ctx, env.Event); err != nil {
		b.logger.WithError(err).Warn("failed to rebroadcast foreign event")
	}

	b.logger.WithFields(map[string]interface{}{
		"from_instance": env.InstanceID,
		"event":         env.Event.Name,
	}).Debug("applied foreign configuration event")
}

package realtime

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/brightpath/pdcore/pkg/access"
	"github.com/brightpath/pdcore/pkg/observability"
)

// stubStore serves a fixed matrix so caches can be warmed in tests
type stubStore struct {
	cfg *access.MatrixConfig
}

func (s *stubStore) Load(ctx context.Context) (*access.MatrixConfig, error) {
	return s.cfg.Clone(), nil
}

func (s *stubStore) Save(ctx context.Context, cfg *access.MatrixConfig) (*access.MatrixConfig, error) {
	s.cfg = cfg.Clone()
	return cfg.Clone(), nil
}

type bridgeFixture struct {
	bridge *RedisBridge
	cache  *access.Cache
	hub    *Hub
}

func newBridgeFixture(t *testing.T, mr *miniredis.Miniredis) *bridgeFixture {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	cache := access.NewCache(&stubStore{cfg: access.DefaultMatrix()})
	hub := NewHub(logger, nil)
	t.Cleanup(hub.Close)

	return &bridgeFixture{
		bridge: NewRedisBridge(client, "", cache, hub, logger),
		cache:  cache,
		hub:    hub,
	}
}

func startBridge(t *testing.T, ctx context.Context, b *RedisBridge) {
	t.Helper()
	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("bridge stopped: %v", err)
		}
	}()
	// Give the subscription a moment to establish before publishing
	time.Sleep(50 * time.Millisecond)
}

func TestRedisBridge_ForeignEventInvalidatesAndRebroadcasts(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := newBridgeFixture(t, mr)
	subscriber := newBridgeFixture(t, mr)

	// Warm the subscriber's cache so invalidation is observable
	if _, err := subscriber.cache.Get(ctx); err != nil {
		t.Fatalf("failed to warm cache: %v", err)
	}
	session, unsub := subscriber.hub.Subscribe()
	defer unsub()

	startBridge(t, ctx, subscriber.bridge)

	evt := access.Event{Name: access.EventSettingsUpdated, Key: access.MatrixKey, UpdatedAt: time.Now()}
	if err := publisher.bridge.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-session.Events:
		if got.Name != access.EventSettingsUpdated {
			t.Errorf("rebroadcast event = %q, want %q", got.Name, access.EventSettingsUpdated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the foreign event")
	}

	if subscriber.cache.Cached() {
		t.Error("foreign event did not invalidate the local cache")
	}
}

func TestRedisBridge_SkipsOwnEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newBridgeFixture(t, mr)
	if _, err := fx.cache.Get(ctx); err != nil {
		t.Fatalf("failed to warm cache: %v", err)
	}
	session, unsub := fx.hub.Subscribe()
	defer unsub()

	startBridge(t, ctx, fx.bridge)

	evt := access.Event{Name: access.EventSettingsUpdated, Key: access.MatrixKey, UpdatedAt: time.Now()}
	if err := fx.bridge.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// The publishing instance already invalidated and broadcast locally
	// through the write path; its own pub/sub echo must be ignored.
	select {
	case got := <-session.Events:
		t.Errorf("received own event back: %q", got.Name)
	case <-time.After(300 * time.Millisecond):
	}

	if !fx.cache.Cached() {
		t.Error("own event invalidated the local cache")
	}
}

func TestRedisBridge_MalformedPayloadIgnored(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newBridgeFixture(t, mr)
	if _, err := fx.cache.Get(ctx); err != nil {
		t.Fatalf("failed to warm cache: %v", err)
	}

	startBridge(t, ctx, fx.bridge)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	if err := client.Publish(ctx, DefaultChannel, "not json").Err(); err != nil {
		t.Fatalf("raw publish failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if !fx.cache.Cached() {
		t.Error("malformed payload invalidated the cache")
	}
}

func TestFanout_LocalDeliveryWithoutBridge(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	hub := NewHub(logger, nil)
	defer hub.Close()

	fanout := NewFanout(hub, nil, logger)

	session, unsub := hub.Subscribe()
	defer unsub()

	evt := access.Event{Name: access.EventSettingsUpdated, Key: access.MatrixKey, UpdatedAt: time.Now()}
	if err := fanout.Broadcast(context.Background(), evt); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case got := <-session.Events:
		if got.Name != access.EventSettingsUpdated {
			t.Errorf("event = %q, want %q", got.Name, access.EventSettingsUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("local session never received the event")
	}
}

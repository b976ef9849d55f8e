package realtime

import (
	"context"

	"github.com/brightpath/pdcore/pkg/access"
	"github.com/brightpath/pdcore/pkg/observability"
)

// Fanout is the access.Broadcaster the service writes into: local sessions
// get the event through the hub, and peer instances get it through the
// Redis bridge when one is configured.
type Fanout struct {
	hub    *Hub
	bridge *RedisBridge
	logger *observability.Logger
}

// NewFanout combines hub and an optional bridge. bridge may be nil for
// single-instance deployments.
func NewFanout(hub *Hub, bridge *RedisBridge, logger *observability.Logger) *Fanout {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Fanout{hub: hub, bridge: bridge, logger: logger}
}

// Broadcast delivers evt locally and cross-instance. A bridge failure is
// reported to the caller but never prevents local delivery.
func (f *Fanout) Broadcast(ctx context.Context, evt access.Event) error {
	if err := f.hub.Broadcast(ctx, evt); err != nil {
		return err
	}

	if f.bridge != nil {
		if err := f.bridge.Publish(ctx, evt); err != nil {
			f.logger.WithError(err).Warn("cross-instance publish failed")
			return err
		}
	}
	return nil
}

package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/brightpath/pdcore/pkg/observability"
)

// Broadcaster fans a change notification out to connected sessions.
// Delivery is best-effort, at-most-once: a client that misses an event
// picks up the fresh matrix on its next fetch.
type Broadcaster interface {
	Broadcast(ctx context.Context, evt Event) error
}

// NopBroadcaster discards events; used when no realtime channel is wired
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(context.Context, Event) error { return nil }

// Service ties the matrix write path together: persist, invalidate, then
// notify. Broadcast failures never fail the write.
type Service struct {
	cache       *Cache
	broadcaster Broadcaster
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewService creates the access service. broadcaster and metrics may be nil.
func NewService(cache *Cache, broadcaster Broadcaster, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		cache:       cache,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     metrics,
	}
}

// Matrix returns the current matrix via the cache
func (s *Service) Matrix(ctx context.Context) (*MatrixConfig, error) {
	cfg, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Service) countUpdate(status string) {
	if s.metrics != nil {
		s.metrics.MatrixUpdatesTotal.WithLabelValues(status).Inc()
	}
}

// UpdateMatrix applies mutator through the cache's write path and, on
// success, broadcasts SETTINGS_UPDATED. The broadcast strictly follows the
// persist: a failed save emits nothing.
func (s *Service) UpdateMatrix(ctx context.Context, mutator Mutator) (*MatrixConfig, error) {
	saved, err := s.cache.Update(ctx, mutator)
	if err != nil {
		if IsValidation(err) {
			s.countUpdate("invalid")
		} else {
			s.countUpdate("error")
		}
		return nil, err
	}
	s.countUpdate("success")

	evt := Event{
		Name:      EventSettingsUpdated,
		Key:       saved.Key,
		UpdatedAt: saved.UpdatedAt,
	}
	if err := s.broadcaster.Broadcast(ctx, evt); err != nil {
		// Non-fatal: the write is durable, clients converge on next fetch
		s.logger.WithError(err).Warn("settings broadcast failed")
		if s.metrics != nil {
			s.metrics.BroadcastFailuresTotal.Inc()
		}
	}
	return saved, nil
}

// ReplaceMatrix swaps in a full set of entries (the admin PUT path)
func (s *Service) ReplaceMatrix(ctx context.Context, entries []MatrixEntry) (*MatrixConfig, error) {
	return s.UpdateMatrix(ctx, func(cfg *MatrixConfig) (*MatrixConfig, error) {
		cfg.Entries = entries
		return cfg, nil
	})
}

// SetModuleRole flips a single (module, role) flag
func (s *Service) SetModuleRole(ctx context.Context, moduleID string, role Role, allowed bool) (*MatrixConfig, error) {
	if !ValidRole(role) {
		return nil, &ValidationError{Field: "role", Reason: fmt.Sprintf("unrecognized role %q", role)}
	}
	return s.UpdateMatrix(ctx, func(cfg *MatrixConfig) (*MatrixConfig, error) {
		entry := cfg.Entry(moduleID)
		if entry == nil {
			return nil, &ValidationError{Field: "module_id", Reason: fmt.Sprintf("unknown module %q", moduleID)}
		}
		if entry.Roles == nil {
			entry.Roles = make(map[Role]bool)
		}
		entry.Roles[role] = allowed
		return cfg, nil
	})
}

// Seed writes the default matrix iff none exists. It is the only path that
// fabricates a config; idempotent across restarts.
func (s *Service) Seed(ctx context.Context) error {
	_, err := s.cache.store.Load(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	if _, err := s.cache.store.Save(ctx, DefaultMatrix()); err != nil {
		return fmt.Errorf("failed to seed default matrix: %w", err)
	}
	s.cache.Invalidate()
	s.logger.Info("seeded default access matrix")
	return nil
}

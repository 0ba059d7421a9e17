package ports

import (
	"context"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

// EventPublisher publishes map events to a message broker.
type EventPublisher interface {
	PublishMapEvent(ctx context.Context, event *domain.MapEvent) error
	PublishLocationsChanged(ctx context.Context) error
}

// EventSubscriber subscribes to events from a message broker.
type EventSubscriber interface {
	// SubscribeLocationChanges calls handler whenever the location store
	// reports a change.
	SubscribeLocationChanges(ctx context.Context, handler func(ctx context.Context) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

package ports

import (
	"context"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// EventPublisher fans committed state events out to a message broker.
// Delivery is at-least-once and best-effort from the engine's perspective.
type EventPublisher interface {
	PublishStateEvent(ctx context.Context, event *domain.StateEvent) error
	PublishSnapshot(ctx context.Context, snap *domain.TripSnapshot) error
}

// EventSubscriber consumes device telemetry from a message broker.
type EventSubscriber interface {
	SubscribeLivePings(ctx context.Context, handler func(ctx context.Context, tripKey string, p *domain.Position) error) error
	SubscribeOfflineBatches(ctx context.Context, handler func(ctx context.Context, tripKey string, points []domain.Position) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// NotificationService alerts dispatchers (push, SMS, etc.).
type NotificationService interface {
	SendDispatchAlert(ctx context.Context, tripKey, title, body string) error
}

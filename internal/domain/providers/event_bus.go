package providers

import (
	"context"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.SearchEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.SearchEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelSearchUserPrefix is the prefix for per-user search channels
const EventChannelSearchUserPrefix = "search:user:"

// GetSearchChannel returns the channel name for a user's search events
func GetSearchChannel(userID string) string {
	return EventChannelSearchUserPrefix + userID
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

const subscriberBuffer = 100

var errBusClosed = errors.New("event bus closed")

// RedisEventBus fans search events out over Redis Pub/Sub. Every per-user
// channel shares one Pub/Sub connection; a channel is subscribed on Redis
// while at least one local stream listens to it.
type RedisEventBus struct {
	client      *redisclient.Client
	pubsub      *redis.PubSub
	subscribers map[string]map[chan *entities.SearchEvent]struct{}
	mu          sync.RWMutex
	closed      bool
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) providers.EventBus {
	return &RedisEventBus{
		client:      client,
		subscribers: make(map[string]map[chan *entities.SearchEvent]struct{}),
	}
}

// Publish publishes an event to all subscribers of the channel, in any process
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.SearchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := b.client.Client().Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	observability.LoggerFromContext(ctx).Debug().
		Str("channel", channel).
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Int64("receivers", receivers).
		Msg("Published search event")
	return nil
}

// Subscribe returns a channel of events that closes when ctx ends
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.SearchEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBusClosed
	}

	subs, listening := b.subscribers[channel]
	if !listening {
		if err := b.connection().Subscribe(ctx, channel); err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		subs = make(map[chan *entities.SearchEvent]struct{})
		b.subscribers[channel] = subs
	}

	eventChan := make(chan *entities.SearchEvent, subscriberBuffer)
	subs[eventChan] = struct{}{}
	count := len(subs)
	b.mu.Unlock()

	observability.LoggerFromContext(ctx).Debug().Str("channel", channel).Int("subscribers", count).Msg("Subscribed to channel")

	go func() {
		<-ctx.Done()
		b.removeSubscriber(channel, eventChan)
	}()

	return eventChan, nil
}

// connection opens the shared Pub/Sub connection on first use. Callers hold b.mu.
func (b *RedisEventBus) connection() *redis.PubSub {
	if b.pubsub == nil {
		b.pubsub = b.client.Client().Subscribe(context.Background())
		go b.dispatch(b.pubsub.Channel())
	}
	return b.pubsub
}

// dispatch routes messages from the shared connection until it is closed
func (b *RedisEventBus) dispatch(messages <-chan *redis.Message) {
	logger := observability.GetLogger()

	for msg := range messages {
		var event entities.SearchEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed event")
			continue
		}

		b.mu.RLock()
		for subscriber := range b.subscribers[msg.Channel] {
			select {
			case subscriber <- &event:
			default:
				logger.Warn().Str("channel", msg.Channel).Str("event_id", event.ID).Msg("Subscriber channel full, skipping event")
			}
		}
		b.mu.RUnlock()
	}
}

func (b *RedisEventBus) removeSubscriber(channel string, eventChan chan *entities.SearchEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	if _, ok := subs[eventChan]; !ok {
		return
	}
	delete(subs, eventChan)
	close(eventChan)

	if len(subs) == 0 {
		b.dropChannel(channel)
	}
}

// dropChannel forgets the channel and stops listening on Redis. Callers hold b.mu.
func (b *RedisEventBus) dropChannel(channel string) {
	for subscriber := range b.subscribers[channel] {
		close(subscriber)
	}
	delete(b.subscribers, channel)

	if b.pubsub == nil {
		return
	}
	if err := b.pubsub.Unsubscribe(context.Background(), channel); err != nil {
		observability.GetLogger().Warn().Err(err).Str("channel", channel).Msg("Failed to unsubscribe channel")
	}
}

// Unsubscribe closes every local stream on the channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[channel]; ok {
		b.dropChannel(channel)
	}
	return nil
}

// Close closes every stream and the shared connection
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for channel, subs := range b.subscribers {
		for subscriber := range subs {
			close(subscriber)
		}
		delete(b.subscribers, channel)
	}

	if b.pubsub == nil {
		return nil
	}
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	return nil
}

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
)

func TestMemoryEventBus_DeliversPerUserChannel(t *testing.T) {
	bus := NewMemoryEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, err := bus.Subscribe(ctx, providers.GetSearchChannel("user-1"))
	require.NoError(t, err)
	theirs, err := bus.Subscribe(ctx, providers.GetSearchChannel("user-2"))
	require.NoError(t, err)

	event := &entities.SearchEvent{ID: "e-1", Type: entities.SearchEventCompleted, UserID: "user-1", SearchID: "s-1"}
	require.NoError(t, bus.Publish(ctx, providers.GetSearchChannel("user-1"), event))

	select {
	case got := <-mine:
		assert.Equal(t, "s-1", got.SearchID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case got := <-theirs:
		t.Fatalf("unexpected event on other user's channel: %+v", got)
	default:
	}
}

func TestMemoryEventBus_ClosesOnContextEnd(t *testing.T) {
	bus := NewMemoryEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "search:user:u")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

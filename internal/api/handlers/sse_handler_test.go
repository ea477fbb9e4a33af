package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/adapters/events"
	"github.com/zatekoja/voiceshop/backend/internal/api/handlers"
	"github.com/zatekoja/voiceshop/backend/internal/api/middleware"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
)

// readEvent returns the next "event:" name from an SSE stream
func readEvent(t *testing.T, scanner *bufio.Scanner) (string, string) {
	t.Helper()
	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
	require.NoError(t, scanner.Err())
	t.Fatal("stream ended before an event arrived")
	return "", ""
}

func TestSSEHandler_StreamSearches_DeliversOwnEvents(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewSSEHandler(bus).WithHeartbeat(time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.StreamSearches(w, r.WithContext(middleware.WithUserID(r.Context(), "user-1")))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	scanner := bufio.NewScanner(resp.Body)

	name, data := readEvent(t, scanner)
	assert.Equal(t, "connected", name)
	assert.Contains(t, data, `"user_id":"user-1"`)
	assert.Equal(t, 1, handler.GetClientCount())

	// another user's channel must not leak into this stream
	require.NoError(t, bus.Publish(ctx, providers.GetSearchChannel("user-2"), &entities.SearchEvent{
		ID: "e-0", Type: entities.SearchEventCompleted, UserID: "user-2", SearchID: "s-other",
	}))
	require.NoError(t, bus.Publish(ctx, providers.GetSearchChannel("user-1"), &entities.SearchEvent{
		ID: "e-1", Type: entities.SearchEventRefined, UserID: "user-1", SearchID: "s-child", Status: entities.SearchStatusCompleted, ProductCount: 5,
	}))

	name, data = readEvent(t, scanner)
	assert.Equal(t, "search.refined", name)
	assert.Contains(t, data, `"search_id":"s-child"`)
	assert.Contains(t, data, `"product_count":5`)
}

func TestSSEHandler_StreamSearches_RequiresIdentity(t *testing.T) {
	handler := handlers.NewSSEHandler(events.NewMemoryEventBus())

	w := httptest.NewRecorder()
	handler.StreamSearches(w, httptest.NewRequest(http.MethodGet, "/api/stream/searches", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, handler.GetClientCount())
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		RateLimitRPM: -1,
		Timeout:      time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestInterpret_StructuredOutput(t *testing.T) {
	var payload map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"output":[{"type":"message","content":[{"type":"output_text","text":"` +
			"```json\\n{\\\"query\\\":\\\"desk\\\"}\\n```" + `"}]}]}`))
	})

	resp, err := client.Interpret(context.Background(), providers.NLURequest{
		Task:         providers.NLUTaskExtractParams,
		Utterance:    "find a desk",
		Context:      "user: hi",
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"desk"}`, string(resp.Fields))
	assert.Nil(t, resp.ToolCall)

	format := payload["text"].(map[string]interface{})["format"].(map[string]interface{})
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "extract_params", format["name"])
	input := payload["input"].([]interface{})
	assert.Contains(t, input[1].(map[string]interface{})["content"], "Utterance: find a desk")
	assert.NotContains(t, payload, "tools")
}

func TestInterpret_FunctionCall(t *testing.T) {
	var payload map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"output":[{"type":"function_call","name":"save_preference","arguments":"{\"category\":\"color\",\"tag\":\"black\"}"}]}`))
	})

	resp, err := client.Interpret(context.Background(), providers.NLURequest{
		Task:      providers.NLUTaskSelectTool,
		Utterance: "remember I like black",
		Tools: []providers.ToolSpec{{
			Name:        "save_preference",
			Description: "store a preference",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "save_preference", resp.ToolCall.Name)
	assert.JSONEq(t, `{"category":"color","tag":"black"}`, string(resp.ToolCall.Arguments))
	assert.Equal(t, "required", payload["tool_choice"])
}

func TestInterpret_Errors(t *testing.T) {
	unauthorized := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := unauthorized.Interpret(context.Background(), providers.NLURequest{Task: providers.NLUTaskExtractParams})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	empty := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[{"type":"message","content":[{"type":"output_text","text":"sorry, no idea"}]}]}`))
	})
	_, err = empty.Interpret(context.Background(), providers.NLURequest{Task: providers.NLUTaskExtractParams})
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`  {"a":1} `))
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	bucket := newTokenBucketWithRate(1, 1)
	defer bucket.Stop()

	require.NoError(t, bucket.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bucket.Wait(ctx), context.DeadlineExceeded)
}

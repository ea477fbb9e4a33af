package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrUnauthorized is returned when the API rejects the configured key
var ErrUnauthorized = errors.New("openai: unauthorized")

// Client implements the language-understanding provider on the Responses API
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *tokenBucket
}

var _ providers.LanguageProvider = (*Client)(nil)

// NewClient creates a new OpenAI client
func NewClient(cfg *config.OpenAIConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newTokenBucket(cfg.RateLimitRPM, cfg.RateLimitBurst),
	}, nil
}

// Close stops the rate limiter refill
func (c *Client) Close() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

type responseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseOutput struct {
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Arguments string            `json:"arguments"`
	Content   []responseContent `json:"content"`
}

type responseEnvelope struct {
	Output []responseOutput `json:"output"`
}

type functionTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Interpret sends one task to the model and returns its raw structured answer.
// The answer is not validated here.
func (c *Client) Interpret(ctx context.Context, req providers.NLURequest) (*providers.NLUResponse, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			recordOpenAIMetric(ctx, c.model, req.Task, 0, 0, err)
			return nil, err
		}
		recordOpenAIRateLimitWait(ctx, c.model, time.Since(waitStart))
	}

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		recordOpenAIMetric(ctx, c.model, req.Task, 0, time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("openai request failed with status %d", resp.StatusCode)
		recordOpenAIMetric(ctx, c.model, req.Task, resp.StatusCode, time.Since(start), err)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}

	var envelope responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		recordOpenAIMetric(ctx, c.model, req.Task, resp.StatusCode, time.Since(start), err)
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}

	out, err := parseEnvelope(envelope)
	recordOpenAIMetric(ctx, c.model, req.Task, resp.StatusCode, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) buildPayload(req providers.NLURequest) map[string]interface{} {
	payload := map[string]interface{}{
		"model": c.model,
		"input": []map[string]string{
			{"role": "system", "content": systemPrompt(req.Task)},
			{"role": "user", "content": buildUserPrompt(req)},
		},
		"temperature":       0,
		"max_output_tokens": 600,
	}

	if len(req.Tools) > 0 {
		tools := make([]functionTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, functionTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		payload["tools"] = tools
		payload["tool_choice"] = "required"
	}
	if len(req.OutputSchema) > 0 {
		payload["text"] = map[string]interface{}{
			"format": map[string]interface{}{
				"type":   "json_schema",
				"name":   string(req.Task),
				"schema": req.OutputSchema,
				"strict": false,
			},
		}
	}
	return payload
}

func parseEnvelope(envelope responseEnvelope) (*providers.NLUResponse, error) {
	out := &providers.NLUResponse{}
	for _, item := range envelope.Output {
		switch item.Type {
		case "function_call":
			if out.ToolCall == nil && item.Name != "" {
				args := json.RawMessage(item.Arguments)
				if !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				out.ToolCall = &entities.ToolCall{Name: item.Name, Arguments: args}
			}
		default:
			for _, content := range item.Content {
				if content.Type != "output_text" || out.Fields != nil {
					continue
				}
				if text := stripCodeFence(content.Text); text != "" && json.Valid([]byte(text)) {
					out.Fields = json.RawMessage(text)
				}
			}
		}
	}
	if out.Fields == nil && out.ToolCall == nil {
		return nil, errors.New("openai response missing output")
	}
	return out, nil
}

func newTokenBucket(rpm int, burst int) *tokenBucket {
	if rpm == 0 {
		rpm = 60
	}
	if rpm < 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return newTokenBucketWithRate(rpm, burst)
}

type tokenBucket struct {
	tokens chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func newTokenBucketWithRate(rpm int, burst int) *tokenBucket {
	bucket := &tokenBucket{
		tokens: make(chan struct{}, burst),
		stop:   make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		bucket.tokens <- struct{}{}
	}

	interval := time.Minute / time.Duration(rpm)
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-bucket.stop:
				return
			case <-ticker.C:
				select {
				case bucket.tokens <- struct{}{}:
				default:
				}
			}
		}
	}()
	return bucket
}

func (b *tokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.tokens:
		return nil
	}
}

func (b *tokenBucket) Stop() {
	b.once.Do(func() { close(b.stop) })
}

type openAIMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

var (
	openaiMetricsOnce sync.Once
	openaiMetrics     *openAIMetrics
)

func ensureOpenAIMetrics() *openAIMetrics {
	openaiMetricsOnce.Do(func() {
		meter := otel.Meter("github.com/zatekoja/voiceshop/backend/openai")

		requestCount, err := meter.Int64Counter("ai.openai.request.count",
			metric.WithDescription("Number of OpenAI requests"))
		if err != nil {
			return
		}
		requestDuration, err := meter.Float64Histogram("ai.openai.request.duration",
			metric.WithDescription("OpenAI request duration in milliseconds"),
			metric.WithUnit("ms"))
		if err != nil {
			return
		}
		requestErrors, err := meter.Int64Counter("ai.openai.request.errors",
			metric.WithDescription("Number of OpenAI request errors"))
		if err != nil {
			return
		}
		rateLimitWait, err := meter.Float64Histogram("ai.openai.rate_limit.wait",
			metric.WithDescription("Time spent waiting for OpenAI rate limiter in milliseconds"),
			metric.WithUnit("ms"))
		if err != nil {
			return
		}
		openaiMetrics = &openAIMetrics{
			requestCount:    requestCount,
			requestDuration: requestDuration,
			requestErrors:   requestErrors,
			rateLimitWait:   rateLimitWait,
		}
	})
	return openaiMetrics
}

func recordOpenAIMetric(ctx context.Context, model string, task providers.NLUTask, statusCode int, duration time.Duration, err error) {
	m := ensureOpenAIMetrics()
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
		attribute.String("ai.task", string(task)),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	m.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func recordOpenAIRateLimitWait(ctx context.Context, model string, wait time.Duration) {
	m := ensureOpenAIMetrics()
	if m == nil {
		return
	}
	m.rateLimitWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
	))
}

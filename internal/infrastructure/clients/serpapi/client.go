package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
)

const (
	defaultBaseURL = "https://serpapi.com"
	defaultEngine  = "google_shopping"
)

// ErrQuotaExhausted is returned when the account has no searches left
var ErrQuotaExhausted = errors.New("serpapi: search quota exhausted")

// Client implements ProductSearchProvider over the SerpAPI shopping engine
type Client struct {
	apiKey     string
	baseURL    string
	engine     string
	country    string
	httpClient *http.Client
}

var _ providers.ProductSearchProvider = (*Client)(nil)

// NewClient creates a SerpAPI client
func NewClient(cfg *config.SerpAPIConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("serpapi api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	engine := cfg.Engine
	if engine == "" {
		engine = defaultEngine
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		engine:     engine,
		country:    cfg.Country,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the provider in logs and breaker names
func (c *Client) Name() string {
	return "serpapi"
}

// Search runs one shopping query and returns at most q.Limit listings
func (c *Client) Search(ctx context.Context, q providers.ProductQuery) ([]entities.RawListing, error) {
	ctx, span := observability.StartSpan(ctx, "serpapi.search")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+c.buildParams(q).Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("serpapi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read serpapi response: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode serpapi response (status %d): %w", resp.StatusCode, err)
	}
	if msg := getString(data["error"]); msg != "" {
		if isEmptyResult(msg) {
			return []entities.RawListing{}, nil
		}
		err := classifyError(resp.StatusCode, msg)
		observability.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("serpapi request failed with status %d", resp.StatusCode)
	}

	listings := parseShoppingResults(data, q.Limit)
	observability.LoggerFromContext(ctx).Debug().
		Str("query", q.Query).
		Int("results", len(listings)).
		Dur("duration", time.Since(start)).
		Msg("SerpAPI search completed")
	return listings, nil
}

func (c *Client) buildParams(q providers.ProductQuery) url.Values {
	terms := []string{q.Query}
	terms = append(terms, q.Features...)

	params := url.Values{}
	params.Set("engine", c.engine)
	params.Set("q", strings.Join(strings.Fields(strings.Join(terms, " ")), " "))
	params.Set("api_key", c.apiKey)
	if c.country != "" {
		params.Set("gl", c.country)
	}
	if q.PriceMin != nil {
		params.Set("min_price", strconv.FormatFloat(*q.PriceMin, 'f', 0, 64))
	}
	if q.PriceMax != nil {
		params.Set("max_price", strconv.FormatFloat(*q.PriceMax, 'f', 0, 64))
	}
	if q.Limit > 0 {
		params.Set("num", strconv.Itoa(q.Limit))
	}
	return params
}

func classifyError(status int, msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "run out of searches") || strings.Contains(lower, "quota") {
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, msg)
	}
	return fmt.Errorf("serpapi error (status %d): %s", status, msg)
}

// isEmptyResult reports the error SerpAPI uses for a query with no matches
func isEmptyResult(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "hasn't returned any results")
}

func parseShoppingResults(data map[string]interface{}, limit int) []entities.RawListing {
	raw, _ := data["shopping_results"].([]interface{})
	listings := make([]entities.RawListing, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		listing := entities.RawListing{
			Title:    getString(m["title"]),
			Price:    getString(m["price"]),
			ImageURL: getString(m["thumbnail"]),
			Source:   getString(m["source"]),
			URL:      firstNonEmpty(getString(m["product_link"]), getString(m["link"])),
			Features: getStrings(m["extensions"]),
		}
		if v, ok := getFloat(m["extracted_price"]); ok {
			listing.PriceValue = &v
		} else if v, ok := m["price"].(float64); ok {
			listing.PriceValue = &v
			listing.Price = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if v, ok := getFloat(m["rating"]); ok {
			listing.Rating = &v
		}
		if v, ok := getFloat(m["reviews"]); ok {
			n := int(v)
			listing.ReviewCount = &n
		}
		listings = append(listings, listing)
		if limit > 0 && len(listings) == limit {
			break
		}
	}
	return listings
}

func getString(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func getFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func getStrings(v interface{}) []string {
	raw, _ := v.([]interface{})
	var out []string
	for _, item := range raw {
		if s := getString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

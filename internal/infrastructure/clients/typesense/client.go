package typesense

import (
	"context"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
	"github.com/zatekoja/voiceshop/backend/pkg/retry"
)

const (
	// ProductsCollection holds listings served by earlier searches
	ProductsCollection = "products"
)

// Client represents a Typesense client
type Client struct {
	client *typesense.Client
}

// NewClient creates a Typesense client and waits for the server with exponential backoff
func NewClient(cfg *config.TypesenseConfig) (*Client, error) {
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)

	logger := observability.GetLogger()
	err := retry.DoWithLog(
		context.Background(),
		retry.DefaultConfig(),
		"Typesense",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := client.Health(ctx, 2*time.Second)
			return err
		},
		func(attempt int, err error, nextDelay time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", nextDelay).Msg("Typesense connection attempt failed")
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Typesense after retries: %w", err)
	}

	logger.Info().Str("url", cfg.URL).Msg("Connected to Typesense")
	return &Client{client: client}, nil
}

// NewClientFromTypesense wraps an existing client without a health check
func NewClientFromTypesense(client *typesense.Client) *Client {
	return &Client{client: client}
}

// Client returns the underlying Typesense client
func (c *Client) Client() *typesense.Client {
	return c.client
}

// InitSchema ensures the products collection exists
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := c.client.Collection(ProductsCollection).Retrieve(ctx); err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: ProductsCollection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "title", Type: "string"},
			{Name: "price", Type: "float", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "price_text", Type: "string", Index: pointer.False(), Optional: pointer.True()},
			{Name: "currency", Type: "string", Facet: pointer.True()},
			{Name: "image_url", Type: "string", Index: pointer.False(), Optional: pointer.True()},
			{Name: "source", Type: "string", Facet: pointer.True()},
			{Name: "url", Type: "string", Index: pointer.False(), Optional: pointer.True()},
			{Name: "features", Type: "string[]", Optional: pointer.True()},
			{Name: "rating", Type: "float", Optional: pointer.True()},
			{Name: "review_count", Type: "int32", Optional: pointer.True()},
			{Name: "created_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("created_at"),
	}

	if _, err := c.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	observability.GetLogger().Info().Str("collection", ProductsCollection).Msg("Created Typesense collection")
	return nil
}

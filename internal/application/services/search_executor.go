package services

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
	"github.com/zatekoja/voiceshop/backend/pkg/retry"
)

// ExecutionResult is the outcome of one search execution
type ExecutionResult struct {
	Listings []entities.RawListing
	Source   entities.ResultSource
	Degraded bool
	// Reason is set when the provider failed and a fallback was served.
	Reason string
}

// SearchExecutor fetches raw listings from the product-search collaborator.
// A failed call is retried once; after that the catalog fallback is used.
type SearchExecutor struct {
	provider   providers.ProductSearchProvider
	catalog    providers.ProductCatalog
	breaker    *gobreaker.CircuitBreaker
	retryCfg   retry.Config
	maxResults int
	metrics    *observability.Metrics
}

// NewSearchExecutor creates a search executor. catalog may be nil.
func NewSearchExecutor(
	provider providers.ProductSearchProvider,
	catalog providers.ProductCatalog,
	maxResults int,
	backoff time.Duration,
	metrics *observability.Metrics,
) *SearchExecutor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "product-search:" + provider.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.GetLogger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Product search circuit breaker changed state")
		},
	})

	return &SearchExecutor{
		provider:   provider,
		catalog:    catalog,
		breaker:    breaker,
		retryCfg:   retry.SingleRetry(backoff),
		maxResults: maxResults,
		metrics:    metrics,
	}
}

// Execute runs the search. Provider failure never surfaces as an error: the
// result is marked degraded and served from the catalog or left empty.
func (e *SearchExecutor) Execute(ctx context.Context, params entities.SearchParams) *ExecutionResult {
	logger := observability.LoggerFromContext(ctx)
	query := toProductQuery(params, e.maxResults)

	var listings []entities.RawListing
	err := retry.DoWithLog(ctx, e.retryCfg, e.provider.Name(), func() error {
		out, err := e.breaker.Execute(func() (interface{}, error) {
			return e.provider.Search(ctx, query)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return retry.Permanent(err)
			}
			return err
		}
		listings, _ = out.([]entities.RawListing)
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("Product search failed, retrying")
	})
	if err == nil {
		return &ExecutionResult{Listings: listings, Source: entities.ResultSourceProvider}
	}

	unavailable := apperrors.NewProviderUnavailable("product search unavailable", err)
	logger.Warn().Err(unavailable).Str("provider", e.provider.Name()).Msg("Product search degraded")

	if e.catalog != nil {
		fallback, catErr := e.catalog.Search(ctx, query)
		if catErr == nil && len(fallback) > 0 {
			observability.RecordDegradation(ctx, e.metrics, string(entities.ResultSourceFallback))
			return &ExecutionResult{
				Listings: fallback,
				Source:   entities.ResultSourceFallback,
				Degraded: true,
				Reason:   unavailable.Message,
			}
		}
		if catErr != nil {
			logger.Warn().Err(catErr).Msg("Catalog fallback search failed")
		}
	}

	observability.RecordDegradation(ctx, e.metrics, string(entities.ResultSourceNone))
	return &ExecutionResult{
		Source:   entities.ResultSourceNone,
		Degraded: true,
		Reason:   unavailable.Message,
	}
}

func toProductQuery(params entities.SearchParams, limit int) providers.ProductQuery {
	features := append([]string(nil), params.Features...)
	for _, term := range params.PreferenceTerms {
		features = appendUnique(features, term)
	}
	if params.Size != "" {
		features = appendUnique(features, params.Size)
	}
	return providers.ProductQuery{
		Query:    params.Query,
		Category: params.Category,
		PriceMin: params.MinPrice,
		PriceMax: params.MaxPrice,
		Features: features,
		Limit:    limit,
	}
}

package providers

import (
	"context"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// ProductQuery is a request to a product source
type ProductQuery struct {
	Query    string
	Category string
	PriceMin *float64
	PriceMax *float64
	Features []string
	Limit    int
}

// ProductSearchProvider is the external product-search collaborator
type ProductSearchProvider interface {
	Name() string
	Search(ctx context.Context, query ProductQuery) ([]entities.RawListing, error)
}

// ProductCatalog is a provider-agnostic product index used when the provider fails
type ProductCatalog interface {
	Index(ctx context.Context, products []*entities.Product) error
	Search(ctx context.Context, query ProductQuery) ([]entities.RawListing, error)
}

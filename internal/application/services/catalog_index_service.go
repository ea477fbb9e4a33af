package services

import (
	"context"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

// CatalogIndexService copies stored products into the fallback catalog
type CatalogIndexService struct {
	products  repositories.ProductRepository
	catalog   providers.ProductCatalog
	batchSize int
}

// NewCatalogIndexService creates a catalog indexer
func NewCatalogIndexService(products repositories.ProductRepository, catalog providers.ProductCatalog, batchSize int) *CatalogIndexService {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &CatalogIndexService{products: products, catalog: catalog, batchSize: batchSize}
}

// Reindex indexes every product stored since the given time and returns the count
func (s *CatalogIndexService) Reindex(ctx context.Context, since time.Time) (int, error) {
	logger := observability.LoggerFromContext(ctx)
	total := 0
	for offset := 0; ; offset += s.batchSize {
		batch, err := s.products.ListCreatedSince(ctx, since, s.batchSize, offset)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		if err := s.catalog.Index(ctx, batch); err != nil {
			return total, err
		}
		total += len(batch)
		logger.Info().Int("indexed", total).Msg("Catalog reindex progress")
		if len(batch) < s.batchSize {
			break
		}
	}
	return total, nil
}

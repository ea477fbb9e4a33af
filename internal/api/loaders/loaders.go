package loaders

import (
	"context"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
)

type ctxKey string

const loadersKey ctxKey = "dataloaders"

// Loaders contains the request-scoped dataloaders
type Loaders struct {
	ProductsBySearch *dataloader.Loader[string, []*entities.Product]
}

// NewLoaders creates a new instance of Loaders. Loaders cache per instance,
// so a fresh set is built for every request.
func NewLoaders(productRepo repositories.ProductRepository) *Loaders {
	return &Loaders{
		ProductsBySearch: dataloader.NewBatchedLoader(
			func(ctx context.Context, keys []string) []*dataloader.Result[[]*entities.Product] {
				results := make([]*dataloader.Result[[]*entities.Product], len(keys))
				grouped, err := productRepo.ListBySearchIDs(ctx, keys)
				for i, key := range keys {
					if err != nil {
						results[i] = &dataloader.Result[[]*entities.Product]{Error: err}
						continue
					}
					// a search with no stored products (failed, degraded to none) yields an empty list
					products := grouped[key]
					if products == nil {
						products = []*entities.Product{}
					}
					results[i] = &dataloader.Result[[]*entities.Product]{Data: products}
				}
				return results
			},
			dataloader.WithWait[string, []*entities.Product](2*time.Millisecond),
		),
	}
}

// For returns the loaders for a given context, or nil when none are attached
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey).(*Loaders)
	return l
}

// WithLoaders returns a new context with the loaders attached
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// Middleware attaches a fresh set of loaders to each request
func Middleware(productRepo repositories.ProductRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLoaders(r.Context(), NewLoaders(productRepo))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

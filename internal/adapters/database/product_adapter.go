package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const searchProductsTable = "search_products"

var productColumns = []interface{}{
	"product_id", "search_id", "sequence_number", "title", "price_minor", "currency",
	"price_unparsed", "image_url", "source", "url", "features", "rating", "review_count", "created_at",
}

// ProductAdapter implements ProductRepository
type ProductAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewProductAdapter creates a new product adapter
func NewProductAdapter(client *postgres.Client) repositories.ProductRepository {
	return &ProductAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// CreateBatch stores the products of one search in a single insert
func (a *ProductAdapter) CreateBatch(ctx context.Context, products []*entities.Product) error {
	if len(products) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(products))
	for _, p := range products {
		rows = append(rows, goqu.Record{
			"product_id":      p.ID,
			"search_id":       p.SearchRequestID,
			"sequence_number": p.SequenceNumber,
			"title":           p.Title,
			"price_minor":     p.PriceMinor,
			"currency":        p.Currency,
			"price_unparsed":  p.PriceUnparsed,
			"image_url":       nullString(p.ImageURL),
			"source":          p.Source,
			"url":             nullString(p.URL),
			"features":        pq.Array(p.Features),
			"rating":          p.Rating,
			"review_count":    p.ReviewCount,
			"created_at":      p.CreatedAt,
		})
	}

	query, args, err := a.db.Insert(searchProductsTable).Rows(rows...).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.NewConflictError("products already stored for search")
		}
		return apperrors.NewInternalError("failed to store products", err)
	}
	return nil
}

// ListBySearch returns the products of a search ordered by sequence number
func (a *ProductAdapter) ListBySearch(ctx context.Context, searchID string) ([]*entities.Product, error) {
	ds := a.db.Select(productColumns...).
		From(searchProductsTable).
		Where(goqu.Ex{"search_id": searchID}).
		Order(goqu.I("sequence_number").Asc())
	return a.query(ctx, ds)
}

// ListBySearchIDs returns products grouped by search id
func (a *ProductAdapter) ListBySearchIDs(ctx context.Context, searchIDs []string) (map[string][]*entities.Product, error) {
	out := make(map[string][]*entities.Product, len(searchIDs))
	if len(searchIDs) == 0 {
		return out, nil
	}

	ds := a.db.Select(productColumns...).
		From(searchProductsTable).
		Where(goqu.Ex{"search_id": searchIDs}).
		Order(goqu.I("search_id").Asc(), goqu.I("sequence_number").Asc())
	products, err := a.query(ctx, ds)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.SearchRequestID] = append(out[p.SearchRequestID], p)
	}
	return out, nil
}

// GetBySequence returns the product bound to a sequence number
func (a *ProductAdapter) GetBySequence(ctx context.Context, searchID string, sequence int) (*entities.Product, error) {
	ds := a.db.Select(productColumns...).
		From(searchProductsTable).
		Where(goqu.Ex{"search_id": searchID, "sequence_number": sequence})
	products, err := a.query(ctx, ds)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("product %d not found in search %s", sequence, searchID))
	}
	return products[0], nil
}

// ListCreatedSince returns products stored at or after since, oldest first
func (a *ProductAdapter) ListCreatedSince(ctx context.Context, since time.Time, limit, offset int) ([]*entities.Product, error) {
	ds := a.db.Select(productColumns...).
		From(searchProductsTable).
		Where(goqu.C("created_at").Gte(since)).
		Order(goqu.I("created_at").Asc(), goqu.I("search_id").Asc(), goqu.I("sequence_number").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset))
	return a.query(ctx, ds)
}

func (a *ProductAdapter) query(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.Product, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list products", err)
	}
	defer rows.Close()

	var products []*entities.Product
	for rows.Next() {
		p := &entities.Product{}
		var imageURL, url sql.NullString
		err := rows.Scan(
			&p.ID,
			&p.SearchRequestID,
			&p.SequenceNumber,
			&p.Title,
			&p.PriceMinor,
			&p.Currency,
			&p.PriceUnparsed,
			&imageURL,
			&p.Source,
			&url,
			pq.Array(&p.Features),
			&p.Rating,
			&p.ReviewCount,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan product", err)
		}
		p.ImageURL = imageURL.String
		p.URL = url.String
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate products", err)
	}
	return products, nil
}

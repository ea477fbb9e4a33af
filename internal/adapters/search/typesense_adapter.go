package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	tsclient "github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/typesense"
)

// CatalogAdapter is the fallback product catalog backed by Typesense
type CatalogAdapter struct {
	client *tsclient.Client
}

var _ providers.ProductCatalog = (*CatalogAdapter)(nil)

// NewCatalogAdapter creates a catalog adapter
func NewCatalogAdapter(client *tsclient.Client) *CatalogAdapter {
	return &CatalogAdapter{client: client}
}

// Index upserts products. Listings sharing a URL collapse into one document.
func (a *CatalogAdapter) Index(ctx context.Context, products []*entities.Product) error {
	docs := a.client.Client().Collection(tsclient.ProductsCollection).Documents()
	for _, p := range products {
		if p == nil {
			continue
		}
		if _, err := docs.Upsert(ctx, buildProductDocument(p)); err != nil {
			return fmt.Errorf("failed to index product %s: %w", p.ID, err)
		}
	}
	return nil
}

// Search runs a text query with the price bounds as filters
func (a *CatalogAdapter) Search(ctx context.Context, q providers.ProductQuery) ([]entities.RawListing, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	text := strings.TrimSpace(strings.Join(append([]string{q.Query}, q.Features...), " "))
	if text == "" {
		text = "*"
	}

	params := &api.SearchCollectionParams{
		Q:                   pointer.String(text),
		QueryBy:             pointer.String("title,features"),
		PerPage:             pointer.Int(limit),
		DropTokensThreshold: pointer.Int(len(strings.Fields(text))),
	}
	if filter := buildPriceFilter(q.PriceMin, q.PriceMax); filter != "" {
		params.FilterBy = pointer.String(filter)
	}

	result, err := a.client.Client().Collection(tsclient.ProductsCollection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	listings := make([]entities.RawListing, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		listings = append(listings, documentToListing(*hit.Document))
	}
	return listings, nil
}

func productDocumentID(p *entities.Product) string {
	key := p.URL
	if key == "" {
		key = p.Source + "|" + strings.ToLower(p.Title)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func buildProductDocument(p *entities.Product) map[string]interface{} {
	doc := map[string]interface{}{
		"id":         productDocumentID(p),
		"title":      p.Title,
		"currency":   p.Currency,
		"source":     p.Source,
		"features":   p.Features,
		"created_at": p.CreatedAt.Unix(),
	}
	if p.PriceUnparsed {
		doc["price_text"] = "price unavailable"
	} else {
		doc["price"] = p.DisplayPrice()
	}
	if p.ImageURL != "" {
		doc["image_url"] = p.ImageURL
	}
	if p.URL != "" {
		doc["url"] = p.URL
	}
	if p.Rating != nil {
		doc["rating"] = *p.Rating
	}
	if p.ReviewCount != nil {
		doc["review_count"] = *p.ReviewCount
	}
	if p.Features == nil {
		doc["features"] = []string{}
	}
	return doc
}

func buildPriceFilter(minPrice, maxPrice *float64) string {
	var parts []string
	if minPrice != nil {
		parts = append(parts, "price:>="+formatAmount(*minPrice))
	}
	if maxPrice != nil {
		parts = append(parts, "price:<="+formatAmount(*maxPrice))
	}
	return strings.Join(parts, " && ")
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func documentToListing(doc map[string]interface{}) entities.RawListing {
	listing := entities.RawListing{
		Title:    stringField(doc, "title"),
		Currency: stringField(doc, "currency"),
		ImageURL: stringField(doc, "image_url"),
		Source:   stringField(doc, "source"),
		URL:      stringField(doc, "url"),
	}
	if v, ok := doc["price"].(float64); ok {
		listing.PriceValue = &v
		listing.Price = formatAmount(v)
	}
	if v, ok := doc["rating"].(float64); ok {
		listing.Rating = &v
	}
	if v, ok := doc["review_count"].(float64); ok {
		n := int(v)
		listing.ReviewCount = &n
	}
	if raw, ok := doc["features"].([]interface{}); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				listing.Features = append(listing.Features, s)
			}
		}
	}
	return listing
}

func stringField(doc map[string]interface{}, key string) string {
	s, _ := doc[key].(string)
	return s
}

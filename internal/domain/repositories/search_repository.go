package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// SearchRequestRepository defines persistence for search requests.
// Reads are scoped by user; a request owned by someone else is reported as not found.
type SearchRequestRepository interface {
	// Create inserts a new search request
	Create(ctx context.Context, search *entities.SearchRequest) error

	// Update patches status, parameters and completion fields
	Update(ctx context.Context, search *entities.SearchRequest) error

	// GetByID retrieves a search request owned by userID
	GetByID(ctx context.Context, userID, id string) (*entities.SearchRequest, error)

	// ListByUser returns the user's searches newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*entities.SearchRequest, error)
}

// ProductRepository defines persistence for numbered products
type ProductRepository interface {
	// CreateBatch stores the products of one search
	CreateBatch(ctx context.Context, products []*entities.Product) error

	// ListBySearch returns the products of a search ordered by sequence number
	ListBySearch(ctx context.Context, searchID string) ([]*entities.Product, error)

	// ListBySearchIDs returns products grouped by search id
	ListBySearchIDs(ctx context.Context, searchIDs []string) (map[string][]*entities.Product, error)

	// GetBySequence returns the product bound to a sequence number
	GetBySequence(ctx context.Context, searchID string, sequence int) (*entities.Product, error)

	// ListCreatedSince returns products stored after since, oldest first
	ListCreatedSince(ctx context.Context, since time.Time, limit, offset int) ([]*entities.Product, error)
}

// RefinementRepository defines persistence for the refinement audit trail
type RefinementRepository interface {
	Create(ctx context.Context, record *entities.RefinementRecord) error
	ListByParent(ctx context.Context, userID, parentSearchID string) ([]*entities.RefinementRecord, error)
}

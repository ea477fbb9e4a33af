package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// PreferenceFilter narrows preference listings
type PreferenceFilter struct {
	Category *entities.PreferenceCategory
	// ActiveAt excludes preferences that expired at or before this instant when set.
	ActiveAt *time.Time
}

// PreferenceRepository defines persistence for user preferences
type PreferenceRepository interface {
	// Create inserts a preference
	Create(ctx context.Context, pref *entities.Preference) error

	// Update patches priority, value, expiry and use count
	Update(ctx context.Context, pref *entities.Preference) error

	// GetByID retrieves a preference owned by userID
	GetByID(ctx context.Context, userID, id string) (*entities.Preference, error)

	// ListByUser returns the user's preferences, highest priority first
	ListByUser(ctx context.Context, userID string, filter PreferenceFilter) ([]*entities.Preference, error)

	// Delete removes a preference owned by userID
	Delete(ctx context.Context, userID, id string) error

	// DeleteExpired physically removes preferences expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

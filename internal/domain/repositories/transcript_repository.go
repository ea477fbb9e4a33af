package repositories

import (
	"context"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// TranscriptRepository defines persistence for conversation turns
type TranscriptRepository interface {
	Create(ctx context.Context, entry *entities.TranscriptEntry) error

	// FindByDedupKey returns the entry of a session with the given dedup key, or nil
	FindByDedupKey(ctx context.Context, userID, sessionID, key string) (*entities.TranscriptEntry, error)

	// ListRecent returns the user's latest entries newest first
	ListRecent(ctx context.Context, userID string, limit int) ([]*entities.TranscriptEntry, error)
}

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v9"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const transcriptEntriesTable = "transcript_entries"

var transcriptColumns = []interface{}{
	"id", "user_id", "session_id", "speaker", "text", "dedup_key", "confidence", "created_at",
}

// TranscriptAdapter implements TranscriptRepository
type TranscriptAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewTranscriptAdapter creates a new transcript adapter
func NewTranscriptAdapter(client *postgres.Client) repositories.TranscriptRepository {
	return &TranscriptAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create inserts a transcript entry. A concurrent duplicate is ignored by the
// unique (user_id, session_id, dedup_key) index.
func (a *TranscriptAdapter) Create(ctx context.Context, entry *entities.TranscriptEntry) error {
	query, args, err := a.db.Insert(transcriptEntriesTable).Rows(goqu.Record{
		"id":         entry.ID,
		"user_id":    entry.UserID,
		"session_id": entry.SessionID,
		"speaker":    string(entry.Speaker),
		"text":       entry.Text,
		"dedup_key":  entry.DedupKey,
		"confidence": entry.Confidence,
		"created_at": entry.CreatedAt,
	}).OnConflict(goqu.DoNothing()).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create transcript entry", err)
	}
	return nil
}

// FindByDedupKey returns the matching entry of a session, or nil
func (a *TranscriptAdapter) FindByDedupKey(ctx context.Context, userID, sessionID, key string) (*entities.TranscriptEntry, error) {
	query, args, err := a.db.Select(transcriptColumns...).
		From(transcriptEntriesTable).
		Where(goqu.Ex{"user_id": userID, "session_id": sessionID, "dedup_key": key}).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := scanTranscriptEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to find transcript entry", err)
	}
	return entry, nil
}

// ListRecent returns the user's latest entries newest first
func (a *TranscriptAdapter) ListRecent(ctx context.Context, userID string, limit int) ([]*entities.TranscriptEntry, error) {
	query, args, err := a.db.Select(transcriptColumns...).
		From(transcriptEntriesTable).
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list transcript", err)
	}
	defer rows.Close()

	var entries []*entities.TranscriptEntry
	for rows.Next() {
		entry, err := scanTranscriptEntry(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan transcript entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate transcript", err)
	}
	return entries, nil
}

func scanTranscriptEntry(row rowScanner) (*entities.TranscriptEntry, error) {
	entry := &entities.TranscriptEntry{}
	var speaker string
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.SessionID,
		&speaker,
		&entry.Text,
		&entry.DedupKey,
		&entry.Confidence,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Speaker = entities.Speaker(speaker)
	return entry, nil
}

package database

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const refinementRecordsTable = "refinement_records"

// RefinementAdapter implements RefinementRepository
type RefinementAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewRefinementAdapter creates a new refinement adapter
func NewRefinementAdapter(client *postgres.Client) repositories.RefinementRepository {
	return &RefinementAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create inserts a refinement record
func (a *RefinementAdapter) Create(ctx context.Context, record *entities.RefinementRecord) error {
	query, args, err := a.db.Insert(refinementRecordsTable).Rows(goqu.Record{
		"id":               record.ID,
		"user_id":          record.UserID,
		"parent_search_id": record.ParentSearchID,
		"child_search_id":  record.ChildSearchID,
		"refinement_type":  string(record.Type),
		"utterance":        record.Utterance,
		"tags":             pq.Array(record.Tags),
		"created_at":       record.CreatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create refinement record", err)
	}
	return nil
}

// ListByParent returns refinements of a parent search oldest first
func (a *RefinementAdapter) ListByParent(ctx context.Context, userID, parentSearchID string) ([]*entities.RefinementRecord, error) {
	query, args, err := a.db.Select(
		"id", "user_id", "parent_search_id", "child_search_id", "refinement_type", "utterance", "tags", "created_at",
	).From(refinementRecordsTable).
		Where(goqu.Ex{"user_id": userID, "parent_search_id": parentSearchID}).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list refinements", err)
	}
	defer rows.Close()

	var records []*entities.RefinementRecord
	for rows.Next() {
		r := &entities.RefinementRecord{}
		var refType string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ParentSearchID, &r.ChildSearchID, &refType, &r.Utterance, pq.Array(&r.Tags), &r.CreatedAt); err != nil {
			return nil, apperrors.NewInternalError("failed to scan refinement", err)
		}
		r.Type = entities.RefinementType(refType)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate refinements", err)
	}
	return records, nil
}

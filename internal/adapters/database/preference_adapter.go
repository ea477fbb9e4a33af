package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const preferencesTable = "preferences"

var preferenceColumns = []interface{}{
	"id", "user_id", "category", "tag", "value", "priority", "provenance",
	"created_at", "updated_at", "expires_at", "use_count",
}

// PreferenceAdapter implements PreferenceRepository
type PreferenceAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewPreferenceAdapter creates a new preference adapter
func NewPreferenceAdapter(client *postgres.Client) repositories.PreferenceRepository {
	return &PreferenceAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create inserts a preference
func (a *PreferenceAdapter) Create(ctx context.Context, pref *entities.Preference) error {
	value, err := encodePreferenceValue(pref.Value)
	if err != nil {
		return err
	}

	query, args, err := a.db.Insert(preferencesTable).Rows(goqu.Record{
		"id":         pref.ID,
		"user_id":    pref.UserID,
		"category":   string(pref.Category),
		"tag":        pref.Tag,
		"value":      value,
		"priority":   pref.Priority,
		"provenance": string(pref.Provenance),
		"created_at": pref.CreatedAt,
		"updated_at": pref.UpdatedAt,
		"expires_at": pref.ExpiresAt,
		"use_count":  pref.UseCount,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create preference", err)
	}
	return nil
}

// Update patches priority, value, expiry and use count
func (a *PreferenceAdapter) Update(ctx context.Context, pref *entities.Preference) error {
	value, err := encodePreferenceValue(pref.Value)
	if err != nil {
		return err
	}

	query, args, err := a.db.Update(preferencesTable).
		Set(goqu.Record{
			"value":      value,
			"priority":   pref.Priority,
			"provenance": string(pref.Provenance),
			"updated_at": pref.UpdatedAt,
			"expires_at": pref.ExpiresAt,
			"use_count":  pref.UseCount,
		}).
		Where(goqu.Ex{"id": pref.ID, "user_id": pref.UserID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update preference", err)
	}
	return expectRows(result, fmt.Sprintf("preference %s not found", pref.ID))
}

// GetByID retrieves a preference owned by userID
func (a *PreferenceAdapter) GetByID(ctx context.Context, userID, id string) (*entities.Preference, error) {
	query, args, err := a.db.Select(preferenceColumns...).
		From(preferencesTable).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	pref, err := scanPreference(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("preference %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get preference", err)
	}
	return pref, nil
}

// ListByUser returns the user's preferences, highest priority first
func (a *PreferenceAdapter) ListByUser(ctx context.Context, userID string, filter repositories.PreferenceFilter) ([]*entities.Preference, error) {
	where := goqu.Ex{"user_id": userID}
	if filter.Category != nil {
		where["category"] = string(*filter.Category)
	}
	ds := a.db.Select(preferenceColumns...).
		From(preferencesTable).
		Where(where).
		Order(goqu.I("priority").Desc(), goqu.I("updated_at").Desc(), goqu.I("id").Asc())
	if filter.ActiveAt != nil {
		ds = ds.Where(goqu.C("expires_at").Gt(*filter.ActiveAt))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list preferences", err)
	}
	defer rows.Close()

	var prefs []*entities.Preference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan preference", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate preferences", err)
	}
	return prefs, nil
}

// Delete removes a preference owned by userID
func (a *PreferenceAdapter) Delete(ctx context.Context, userID, id string) error {
	query, args, err := a.db.Delete(preferencesTable).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to delete preference", err)
	}
	return expectRows(result, fmt.Sprintf("preference %s not found", id))
}

// DeleteExpired removes preferences whose expiry is at or before the given time
func (a *PreferenceAdapter) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := a.db.Delete(preferencesTable).
		Where(goqu.C("expires_at").Lte(before)).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to sweep preferences", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to get rows affected", err)
	}
	return removed, nil
}

func encodePreferenceValue(v *entities.PreferenceValue) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, apperrors.NewInternalError("failed to encode preference value", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanPreference(row rowScanner) (*entities.Preference, error) {
	pref := &entities.Preference{}
	var category, provenance string
	var value []byte

	err := row.Scan(
		&pref.ID,
		&pref.UserID,
		&category,
		&pref.Tag,
		&value,
		&pref.Priority,
		&provenance,
		&pref.CreatedAt,
		&pref.UpdatedAt,
		&pref.ExpiresAt,
		&pref.UseCount,
	)
	if err != nil {
		return nil, err
	}

	pref.Category = entities.PreferenceCategory(category)
	pref.Provenance = entities.Provenance(provenance)
	if len(value) > 0 {
		pref.Value = &entities.PreferenceValue{}
		if err := json.Unmarshal(value, pref.Value); err != nil {
			return nil, fmt.Errorf("decode preference value: %w", err)
		}
	}
	return pref, nil
}

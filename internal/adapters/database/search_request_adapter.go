package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const searchRequestsTable = "search_requests"

var searchRequestColumns = []interface{}{
	"id", "user_id", "utterance", "params", "status", "cache_key", "result_source",
	"degraded", "error_reason", "parent_search_id", "created_at", "completed_at",
}

// SearchRequestAdapter implements SearchRequestRepository
type SearchRequestAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSearchRequestAdapter creates a new search request adapter
func NewSearchRequestAdapter(client *postgres.Client) repositories.SearchRequestRepository {
	return &SearchRequestAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create inserts a search request
func (a *SearchRequestAdapter) Create(ctx context.Context, search *entities.SearchRequest) error {
	params, err := json.Marshal(search.Params)
	if err != nil {
		return apperrors.NewInternalError("failed to encode search params", err)
	}

	record := goqu.Record{
		"id":               search.ID,
		"user_id":          search.UserID,
		"utterance":        search.Utterance,
		"params":           string(params),
		"status":           string(search.Status),
		"cache_key":        nullString(search.CacheKey),
		"result_source":    nullString(string(search.ResultSource)),
		"degraded":         search.Degraded,
		"error_reason":     search.ErrorReason,
		"parent_search_id": search.ParentSearchID,
		"created_at":       search.CreatedAt,
		"completed_at":     nullTime(search.CompletedAt),
	}

	query, args, err := a.db.Insert(searchRequestsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create search request", err)
	}
	return nil
}

// Update patches the mutable fields of a search request
func (a *SearchRequestAdapter) Update(ctx context.Context, search *entities.SearchRequest) error {
	params, err := json.Marshal(search.Params)
	if err != nil {
		return apperrors.NewInternalError("failed to encode search params", err)
	}

	record := goqu.Record{
		"params":        string(params),
		"status":        string(search.Status),
		"cache_key":     nullString(search.CacheKey),
		"result_source": nullString(string(search.ResultSource)),
		"degraded":      search.Degraded,
		"error_reason":  search.ErrorReason,
		"completed_at":  nullTime(search.CompletedAt),
	}

	query, args, err := a.db.Update(searchRequestsTable).
		Set(record).
		Where(goqu.Ex{"id": search.ID, "user_id": search.UserID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update search request", err)
	}
	return expectRows(result, fmt.Sprintf("search %s not found", search.ID))
}

// GetByID retrieves a search request owned by userID
func (a *SearchRequestAdapter) GetByID(ctx context.Context, userID, id string) (*entities.SearchRequest, error) {
	query, args, err := a.db.Select(searchRequestColumns...).
		From(searchRequestsTable).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	search, err := scanSearchRequest(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("search %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get search request", err)
	}
	return search, nil
}

// ListByUser returns the user's searches newest first
func (a *SearchRequestAdapter) ListByUser(ctx context.Context, userID string, limit int) ([]*entities.SearchRequest, error) {
	query, args, err := a.db.Select(searchRequestColumns...).
		From(searchRequestsTable).
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.I("created_at").Desc(), goqu.I("id").Desc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list searches", err)
	}
	defer rows.Close()

	var searches []*entities.SearchRequest
	for rows.Next() {
		search, err := scanSearchRequest(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan search request", err)
		}
		searches = append(searches, search)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate searches", err)
	}
	return searches, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSearchRequest(row rowScanner) (*entities.SearchRequest, error) {
	search := &entities.SearchRequest{}
	var params []byte
	var status string
	var cacheKey, resultSource sql.NullString

	err := row.Scan(
		&search.ID,
		&search.UserID,
		&search.Utterance,
		&params,
		&status,
		&cacheKey,
		&resultSource,
		&search.Degraded,
		&search.ErrorReason,
		&search.ParentSearchID,
		&search.CreatedAt,
		&search.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &search.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	search.Status = entities.SearchStatus(status)
	search.CacheKey = cacheKey.String
	search.ResultSource = entities.ResultSource(resultSource.String)
	return search, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func expectRows(result sql.Result, notFound string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(notFound)
	}
	return nil
}

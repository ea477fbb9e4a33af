package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/api/loaders"
	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

const (
	sessionHeader      = "X-Session-ID"
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchService defines the search operations used by the handler
type SearchService interface {
	RunSearch(ctx context.Context, userID, utterance string) (*entities.SearchResult, error)
	RunRefinement(ctx context.Context, userID, parentSearchID, utterance string) (*entities.SearchResult, error)
	HandleUtterance(ctx context.Context, userID, utterance, activeSearchID string) (*entities.UtteranceOutcome, error)
	GetSearch(ctx context.Context, userID, searchID string) (*entities.SearchResult, error)
	ListSearches(ctx context.Context, userID string, limit int) ([]*entities.SearchRequest, error)
	GetProduct(ctx context.Context, userID, searchID string, sequence int) (*entities.Product, error)
}

// SearchHandler serves searches, refinements and utterance dispatch
type SearchHandler struct {
	service    SearchService
	retryAfter time.Duration
}

// NewSearchHandler creates a search handler. retryAfter is advertised when a
// user hits the rate limit.
func NewSearchHandler(service SearchService, retryAfter time.Duration) *SearchHandler {
	return &SearchHandler{service: service, retryAfter: retryAfter}
}

type utteranceRequest struct {
	Utterance string `json:"utterance" validate:"required,max=2000"`
}

type dispatchRequest struct {
	Utterance      string `json:"utterance" validate:"required,max=2000"`
	ActiveSearchID string `json:"activeSearchId,omitempty" validate:"omitempty,max=64"`
}

// CreateSearch handles POST /api/searches
func (h *SearchHandler) CreateSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload utteranceRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	result, err := h.service.RunSearch(withSession(r), userID, payload.Utterance)
	if err != nil {
		respondWithAppError(w, r, err, h.retryAfter)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// RefineSearch handles POST /api/searches/{id}/refinements
func (h *SearchHandler) RefineSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	parentID := r.PathValue("id")
	if parentID == "" {
		respondWithError(w, http.StatusBadRequest, "search ID is required")
		return
	}
	var payload utteranceRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	result, err := h.service.RunRefinement(withSession(r), userID, parentID, payload.Utterance)
	if err != nil {
		respondWithAppError(w, r, err, h.retryAfter)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// HandleUtterance handles POST /api/utterances
func (h *SearchHandler) HandleUtterance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload dispatchRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	outcome, err := h.service.HandleUtterance(withSession(r), userID, payload.Utterance, payload.ActiveSearchID)
	if err != nil {
		respondWithAppError(w, r, err, h.retryAfter)
		return
	}
	respondWithJSON(w, http.StatusOK, outcome)
}

// GetSearch handles GET /api/searches/{id}
func (h *SearchHandler) GetSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.GetSearch(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// ListSearches handles GET /api/searches
func (h *SearchHandler) ListSearches(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r, defaultSearchLimit, maxSearchLimit)

	searches, err := h.service.ListSearches(r.Context(), userID, limit)
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}

	results := make([]*entities.SearchResult, len(searches))
	for i, s := range searches {
		results[i] = &entities.SearchResult{Search: s, Products: []*entities.Product{}}
	}

	if l := loaders.For(r.Context()); l != nil && len(searches) > 0 {
		thunks := make([]func() ([]*entities.Product, error), len(searches))
		for i, s := range searches {
			thunks[i] = l.ProductsBySearch.Load(r.Context(), s.ID)
		}
		for i, thunk := range thunks {
			products, err := thunk()
			if err != nil {
				observability.LoggerFromContext(r.Context()).Warn().Err(err).
					Str("user_id", userID).
					Str("search_id", searches[i].ID).
					Msg("Failed to load products for search history")
				continue
			}
			results[i].Products = products
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"searches": results,
		"count":    len(results),
	})
}

// GetProduct handles GET /api/searches/{id}/products/{number}
func (h *SearchHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number < 1 {
		respondWithError(w, http.StatusBadRequest, "product number must be a positive integer")
		return
	}

	product, err := h.service.GetProduct(r.Context(), userID, r.PathValue("id"), number)
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

func withSession(r *http.Request) context.Context {
	if session := strings.TrimSpace(r.Header.Get(sessionHeader)); session != "" {
		return services.WithSessionID(r.Context(), session)
	}
	return r.Context()
}

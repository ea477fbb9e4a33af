package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

// PreferenceService defines the preference operations used by the handler
type PreferenceService interface {
	List(ctx context.Context, userID string, category *entities.PreferenceCategory) ([]*entities.Preference, error)
	AddManual(ctx context.Context, userID, category, tag string, priority int) (*entities.Preference, error)
	Remove(ctx context.Context, userID, id string) error
}

// PreferenceHandler serves the user's stored preferences
type PreferenceHandler struct {
	service PreferenceService
}

// NewPreferenceHandler creates a preference handler
func NewPreferenceHandler(service PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{service: service}
}

type addPreferenceRequest struct {
	Category string `json:"category" validate:"required,oneof=material price size feature color style other"`
	Tag      string `json:"tag" validate:"required,max=120"`
	Priority int    `json:"priority" validate:"omitempty,gte=1,lte=10"`
}

// ListPreferences handles GET /api/preferences
func (h *PreferenceHandler) ListPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var category *entities.PreferenceCategory
	if raw := r.URL.Query().Get("category"); raw != "" {
		parsed, ok := entities.ParsePreferenceCategory(raw)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "unknown preference category")
			return
		}
		category = &parsed
	}

	prefs, err := h.service.List(r.Context(), userID, category)
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	if prefs == nil {
		prefs = []*entities.Preference{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"preferences": prefs,
		"count":       len(prefs),
	})
}

// AddPreference handles POST /api/preferences
func (h *PreferenceHandler) AddPreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload addPreferenceRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	pref, err := h.service.AddManual(r.Context(), userID, payload.Category, payload.Tag, payload.Priority)
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	respondWithJSON(w, http.StatusOK, pref)
}

// DeletePreference handles DELETE /api/preferences/{id}
func (h *PreferenceHandler) DeletePreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), userID, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

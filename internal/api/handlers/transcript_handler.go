package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

const (
	defaultTranscriptLimit = 20
	maxTranscriptLimit     = 200
)

// TranscriptService defines the transcript operations used by the handler
type TranscriptService interface {
	Record(ctx context.Context, userID, sessionID, speaker, text string, confidence *float64) (*entities.TranscriptEntry, bool, error)
	Recent(ctx context.Context, userID string, n int) ([]*entities.TranscriptEntry, error)
}

// TranscriptHandler records and lists conversation turns
type TranscriptHandler struct {
	service TranscriptService
}

// NewTranscriptHandler creates a transcript handler
func NewTranscriptHandler(service TranscriptService) *TranscriptHandler {
	return &TranscriptHandler{service: service}
}

type recordTranscriptRequest struct {
	SessionID  string   `json:"sessionId" validate:"max=128"`
	Speaker    string   `json:"speaker" validate:"required"`
	Text       string   `json:"text" validate:"max=4000"`
	Confidence *float64 `json:"confidence,omitempty"`
	UserID     string   `json:"userId,omitempty"`
}

// RecordTranscript handles POST /api/transcripts
func (h *TranscriptHandler) RecordTranscript(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload recordTranscriptRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.UserID != "" && payload.UserID != userID {
		respondWithError(w, http.StatusForbidden, "user does not match the authenticated caller")
		return
	}

	entry, created, err := h.service.Record(r.Context(), userID, payload.SessionID, payload.Speaker, payload.Text, payload.Confidence)
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	switch {
	case entry == nil:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
	case created:
		respondWithJSON(w, http.StatusCreated, entry)
	default:
		respondWithJSON(w, http.StatusOK, entry)
	}
}

// ListTranscripts handles GET /api/transcripts
func (h *TranscriptHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Recent(r.Context(), userID, queryLimit(r, defaultTranscriptLimit, maxTranscriptLimit))
	if err != nil {
		respondWithAppError(w, r, err, 0)
		return
	}
	if entries == nil {
		entries = []*entities.TranscriptEntry{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

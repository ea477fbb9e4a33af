package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const (
	transcriptDedupPrefixLen = 50
	// DefaultSessionID is used when the caller does not name a session
	DefaultSessionID = "default"
)

// TranscriptService records conversation turns and serves rolling history
type TranscriptService struct {
	repo  repositories.TranscriptRepository
	now   func() time.Time
	newID func() string
}

// NewTranscriptService creates a transcript service
func NewTranscriptService(repo repositories.TranscriptRepository) *TranscriptService {
	return &TranscriptService{repo: repo, now: time.Now, newID: uuid.NewString}
}

// Record stores one turn. System and tool lines and empty text are skipped and
// return nil. A turn whose speaker and first 50 characters repeat an entry of
// the same session returns the existing entry with created=false.
func (s *TranscriptService) Record(ctx context.Context, userID, sessionID, speaker, text string, confidence *float64) (entry *entities.TranscriptEntry, created bool, err error) {
	text = strings.TrimSpace(text)
	who, keep, err := parseSpeaker(speaker)
	if err != nil {
		return nil, false, err
	}
	if !keep || text == "" {
		return nil, false, nil
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return nil, false, apperrors.NewValidationError("confidence must be between 0 and 1")
	}

	key := transcriptDedupKey(who, text)
	existing, err := s.repo.FindByDedupKey(ctx, userID, sessionID, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	entry = &entities.TranscriptEntry{
		ID:         s.newID(),
		UserID:     userID,
		SessionID:  sessionID,
		Speaker:    who,
		Text:       text,
		DedupKey:   key,
		Confidence: confidence,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Recent returns the last n turns oldest first
func (s *TranscriptService) Recent(ctx context.Context, userID string, n int) ([]*entities.TranscriptEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := s.repo.ListRecent(ctx, userID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// HistoryLines renders the last n turns as "speaker: text" lines
func (s *TranscriptService) HistoryLines(ctx context.Context, userID string, n int) []string {
	entries, err := s.Recent(ctx, userID, n)
	if err != nil {
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Speaker, e.Text))
	}
	return lines
}

func parseSpeaker(s string) (entities.Speaker, bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return entities.SpeakerUser, true, nil
	case "agent", "assistant":
		return entities.SpeakerAgent, true, nil
	case "system", "function", "tool":
		return "", false, nil
	}
	return "", false, apperrors.NewValidationError("unknown speaker: " + s)
}

func transcriptDedupKey(speaker entities.Speaker, text string) string {
	runes := []rune(text)
	if len(runes) > transcriptDedupPrefixLen {
		runes = runes[:transcriptDedupPrefixLen]
	}
	return string(speaker) + ":" + string(runes)
}

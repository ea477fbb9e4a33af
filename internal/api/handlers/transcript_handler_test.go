package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/api/handlers"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

type recordCall struct {
	userID, sessionID, speaker, text string
}

type stubTranscriptService struct {
	calls   []recordCall
	entries []*entities.TranscriptEntry
	seen    map[string]*entities.TranscriptEntry
}

func (s *stubTranscriptService) Record(ctx context.Context, userID, sessionID, speaker, text string, confidence *float64) (*entities.TranscriptEntry, bool, error) {
	s.calls = append(s.calls, recordCall{userID, sessionID, speaker, text})
	switch speaker {
	case "system":
		return nil, false, nil
	case "user", "agent":
	default:
		return nil, false, apperrors.NewValidationError("unknown speaker " + speaker)
	}
	if s.seen == nil {
		s.seen = make(map[string]*entities.TranscriptEntry)
	}
	key := userID + "|" + sessionID + "|" + speaker + "|" + text
	if e, ok := s.seen[key]; ok {
		return e, false, nil
	}
	e := &entities.TranscriptEntry{ID: "t-1", UserID: userID, SessionID: sessionID, Speaker: entities.Speaker(speaker), Text: text}
	s.seen[key] = e
	return e, true, nil
}

func (s *stubTranscriptService) Recent(ctx context.Context, userID string, n int) ([]*entities.TranscriptEntry, error) {
	if n < len(s.entries) {
		return s.entries[len(s.entries)-n:], nil
	}
	return s.entries, nil
}

func TestTranscriptHandler_RecordTranscript(t *testing.T) {
	svc := &stubTranscriptService{}
	handler := handlers.NewTranscriptHandler(svc)
	body := `{"sessionId":"call-1","speaker":"user","text":"show me boots","confidence":0.92}`

	w := httptest.NewRecorder()
	handler.RecordTranscript(w, authed(httptest.NewRequest(http.MethodPost, "/api/transcripts", strings.NewReader(body)), "user-1"))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	handler.RecordTranscript(w, authed(httptest.NewRequest(http.MethodPost, "/api/transcripts", strings.NewReader(body)), "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, svc.calls, 2)
	assert.Equal(t, recordCall{"user-1", "call-1", "user", "show me boots"}, svc.calls[0])
}

func TestTranscriptHandler_RecordTranscript_UserMismatch(t *testing.T) {
	svc := &stubTranscriptService{}
	handler := handlers.NewTranscriptHandler(svc)
	body := `{"sessionId":"call-1","speaker":"user","text":"hi","userId":"user-2"}`

	w := httptest.NewRecorder()
	handler.RecordTranscript(w, authed(httptest.NewRequest(http.MethodPost, "/api/transcripts", strings.NewReader(body)), "user-1"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, svc.calls)
}

func TestTranscriptHandler_RecordTranscript_MatchingUserIsAccepted(t *testing.T) {
	svc := &stubTranscriptService{}
	handler := handlers.NewTranscriptHandler(svc)
	body := `{"sessionId":"call-1","speaker":"agent","text":"here are five options","userId":"user-1"}`

	w := httptest.NewRecorder()
	handler.RecordTranscript(w, authed(httptest.NewRequest(http.MethodPost, "/api/transcripts", strings.NewReader(body)), "user-1"))

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTranscriptHandler_RecordTranscript_SkipsAndRejects(t *testing.T) {
	svc := &stubTranscriptService{}
	handler := handlers.NewTranscriptHandler(svc)

	w := httptest.NewRecorder()
	handler.RecordTranscript(w, authed(httptest.NewRequest(http.MethodPost, "/api/transcripts",
		strings.NewReader(`{"speaker":"system","text":"connected"}`)), "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"skipped"}`, w.Body.String())

	w = httptest.NewRecorder()
	handler.RecordTranscript(w, authed(httptest.NewRequest(http.MethodPost, "/api/transcripts",
		strings.NewReader(`{"speaker":"robot","text":"beep"}`)), "user-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscriptHandler_ListTranscripts(t *testing.T) {
	svc := &stubTranscriptService{entries: []*entities.TranscriptEntry{
		{ID: "1", Text: "first"}, {ID: "2", Text: "second"}, {ID: "3", Text: "third"},
	}}
	handler := handlers.NewTranscriptHandler(svc)

	w := httptest.NewRecorder()
	handler.ListTranscripts(w, authed(httptest.NewRequest(http.MethodGet, "/api/transcripts?limit=2", nil), "user-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
	assert.Contains(t, w.Body.String(), `"second"`)
	assert.NotContains(t, w.Body.String(), `"first"`)
}

package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

func TestRecord_DeduplicatesOnSpeakerAndPrefix(t *testing.T) {
	svc := services.NewTranscriptService(&memTranscriptRepo{})
	ctx := context.Background()
	long := strings.Repeat("show me wooden desks ", 4)

	first, created, err := svc.Record(ctx, testUser, "s1", "user", long+"please", nil)
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := svc.Record(ctx, testUser, "s1", "user", long+"now", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)

	_, created, err = svc.Record(ctx, testUser, "s1", "assistant", long+"please", nil)
	require.NoError(t, err)
	assert.True(t, created, "agent lines dedupe separately from user lines")

	_, created, err = svc.Record(ctx, testUser, "s2", "user", long+"please", nil)
	require.NoError(t, err)
	assert.True(t, created, "dedup is per session")
}

func TestRecord_SkipsSystemAndEmptyLines(t *testing.T) {
	repo := &memTranscriptRepo{}
	svc := services.NewTranscriptService(repo)
	ctx := context.Background()

	entry, created, err := svc.Record(ctx, testUser, "s1", "system", "You are a shopping assistant", nil)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.False(t, created)

	_, created, err = svc.Record(ctx, testUser, "s1", "user", "   ", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, repo.entries)

	_, _, err = svc.Record(ctx, testUser, "s1", "narrator", "hello", nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRecent_ReturnsOldestFirst(t *testing.T) {
	svc := services.NewTranscriptService(&memTranscriptRepo{})
	ctx := context.Background()
	for _, line := range []string{"one", "two", "three"} {
		_, _, err := svc.Record(ctx, testUser, "s1", "user", line, nil)
		require.NoError(t, err)
	}

	recent, err := svc.Recent(ctx, testUser, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Text)
	assert.Equal(t, "three", recent[1].Text)

	assert.Equal(t, []string{"user: two", "user: three"}, svc.HistoryLines(ctx, testUser, 2))
}

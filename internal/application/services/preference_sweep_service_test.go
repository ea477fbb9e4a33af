package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.AddManual(ctx, testUser, "color", "black", 6)
	require.NoError(t, err)
	h.clock.Advance(20 * 24 * time.Hour)
	_, err = h.store.AddManual(ctx, testUser, "material", "oak", 6)
	require.NoError(t, err)
	h.clock.Advance(15 * 24 * time.Hour)

	removed, err := services.NewPreferenceSweepService(h.store).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := h.store.List(ctx, testUser, nil)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, entities.PreferenceCategoryMaterial, remaining[0].Category)
}

func TestStartPeriodicSweep_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	svc := services.NewPreferenceSweepService(h.store)
	ctx, cancel := context.WithCancel(context.Background())

	svc.StartPeriodicSweep(ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	svc.Stop()
}

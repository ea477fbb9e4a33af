package services

import (
	"context"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

// PreferenceSweepService periodically deletes expired preferences. Read paths
// already ignore expired rows, so a late or skipped sweep only costs storage.
type PreferenceSweepService struct {
	store  *PreferenceStore
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPreferenceSweepService creates a sweeper for the store
func NewPreferenceSweepService(store *PreferenceStore) *PreferenceSweepService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PreferenceSweepService{store: store, ctx: ctx, cancel: cancel}
}

// Sweep removes expired preferences once
func (s *PreferenceSweepService) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		observability.LoggerFromContext(ctx).Info().Int64("removed", removed).Msg("Swept expired preferences")
	}
	return removed, nil
}

// StartPeriodicSweep sweeps every interval until Stop is called or ctx ends
func (s *PreferenceSweepService) StartPeriodicSweep(ctx context.Context, interval time.Duration) {
	logger := observability.GetLogger()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Stopping preference sweep service")
				return
			case <-s.ctx.Done():
				logger.Info().Msg("Stopping preference sweep service")
				return
			case <-ticker.C:
				if _, err := s.Sweep(s.ctx); err != nil {
					logger.Warn().Err(err).Msg("Periodic preference sweep failed")
				}
			}
		}
	}()
	logger.Info().Dur("interval", interval).Msg("Started periodic preference sweep")
}

// Stop stops the periodic sweep
func (s *PreferenceSweepService) Stop() {
	s.cancel()
}

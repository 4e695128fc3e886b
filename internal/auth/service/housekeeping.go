package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

// TokenRefresher keeps the provider's credentials current.
type TokenRefresher interface {
	RefreshIfNeeded(ctx context.Context) error
}

// HousekeepingService periodically deletes an expired session record and
// refreshes the provider token before it lapses.
type HousekeepingService struct {
	Cache     *SessionCache
	Refresher TokenRefresher // optional
	Logger    *slog.Logger
	Interval  time.Duration

	// Internal channels for lifecycle management
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 minute.
func NewHousekeepingService(cache *SessionCache, refresher TokenRefresher, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Minute
	}

	return &HousekeepingService{
		Cache:     cache,
		Refresher: refresher,
		Logger:    slogx.OrDefault(logger),
		Interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
func (s *HousekeepingService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup. Stopping a
// service that was never started is a no-op.
func (s *HousekeepingService) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one housekeeping pass. Each task is independent; a failure
// in one does not stop the other.
func (s *HousekeepingService) RunOnce(ctx context.Context) {
	if s.Cache != nil {
		purged, err := s.Cache.Purge(ctx)
		switch {
		case err != nil:
			s.Logger.Error("failed to purge expired session", "error", err)
		case purged:
			s.Logger.Info("purged expired session record")
		}
	}

	if s.Refresher != nil {
		if err := s.Refresher.RefreshIfNeeded(ctx); err != nil {
			s.Logger.Warn("provider token refresh failed", "error", err)
		}
	}
}

package blobstore

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nitzmahone/relay/pkg/log"
)

// Sweeper periodically removes stale rendezvous objects so waiters on a
// dead producer eventually unblock.
type Sweeper struct {
	store    *Store
	interval time.Duration
	maxAge   time.Duration
	stopCh   chan struct{}
	logger   zerolog.Logger
}

// NewSweeper builds a sweeper over store
func NewSweeper(store *Store, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("blobstore-sweeper"),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	go s.run()
}

// Stop stops the sweep loop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed, err := s.store.SweepStaleLocks(s.maxAge); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			} else if removed > 0 {
				s.logger.Warn().Int("removed", removed).Msg("swept stale rendezvous objects")
			}
		case <-s.stopCh:
			return
		}
	}
}

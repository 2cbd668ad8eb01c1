package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opencode-ai/toolgate/internal/logging"
)

// Sweeper evicts idle sessions from a Store on a fixed schedule.
type Sweeper struct {
	cron   *cron.Cron
	store  *Store
	maxAge time.Duration
}

// NewSweeper schedules a sweep of sessions idle for longer than maxAge every
// interval. Overlapping runs are skipped.
func NewSweeper(store *Store, maxAge, interval time.Duration) (*Sweeper, error) {
	if maxAge <= 0 || interval <= 0 {
		return nil, fmt.Errorf("sweeper: maxAge and interval must be positive")
	}

	s := &Sweeper{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:  store,
		maxAge: maxAge,
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), s.run); err != nil {
		return nil, fmt.Errorf("sweeper: schedule: %w", err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	if n := s.store.Sweep(s.maxAge); n > 0 {
		logging.Info().Int("evicted", n).Int("remaining", s.store.Len()).Msg("session sweep")
	}
}

// Start begins sweeping in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

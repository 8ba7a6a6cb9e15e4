package capture

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Sweeper deletes captures past the retention period when the periodic
// sweep task fires
type Sweeper struct {
	store     *Store
	retention time.Duration
}

func NewSweeper(store *Store, retention time.Duration) *Sweeper {
	return &Sweeper{store: store, retention: retention}
}

// HandleSweepTask is best effort: failures are logged and the next
// scheduled sweep picks up what was left
func (s *Sweeper) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := s.store.now().Add(-s.retention)
	if _, err := s.store.Sweep(ctx, cutoff); err != nil {
		s.store.log.LogWarnf("capture sweep stopped early: %v", err)
	}
	return nil
}

// internal/syncer/scheduler.go
//
// Ticker loops for the batch and full cadences.
//
// Notes
// -----
// Each cadence runs on its own goroutine; overlap between the two is
// permitted and the per-cadence guard prevents a slow run from stacking
// on its own ticker.  Run stops both loops and waits for in-flight runs
// to observe cancellation.

package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires RunBatch and RunFull on their configured intervals.
type Scheduler struct {
	orch          *Orchestrator
	batchInterval time.Duration
	fullInterval  time.Duration
	log           *zap.SugaredLogger
}

// NewScheduler wires an Orchestrator to its tick intervals.
func NewScheduler(orch *Orchestrator, batchInterval, fullInterval time.Duration, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		orch:          orch,
		batchInterval: batchInterval,
		fullInterval:  fullInterval,
		log:           log,
	}
}

// Run blocks until ctx is cancelled.  Errors from individual runs are
// already logged and persisted by the orchestrator; the loops keep ticking.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.loop(ctx, "batch", s.batchInterval, s.orch.RunBatch)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "full", s.fullInterval, s.orch.RunFull)
	}()

	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	s.log.Infow("cadence scheduled", "cadence", name, "interval", interval)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("cadence stopped", "cadence", name)
			return
		case <-t.C:
			if err := run(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorw("cadence tick failed", "cadence", name, "err", err)
			}
		}
	}
}

package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"
)

// Scheduler runs the syncer periodically: once shortly after startup, then
// on a fixed interval.
type Scheduler struct {
	syncer       *Syncer
	interval     time.Duration
	startupDelay time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           gosync.WaitGroup
}

func NewScheduler(syncer *Syncer, interval, startupDelay time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		syncer:       syncer,
		interval:     interval,
		startupDelay: startupDelay,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		startup := time.NewTimer(s.startupDelay)
		defer startup.Stop()

		select {
		case <-s.ctx.Done():
			return
		case <-startup.C:
			s.runSync("startup")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runSync("scheduled")
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) runSync(trigger string) {
	count, err := s.syncer.Run(s.ctx, trigger)
	if errors.Is(err, ErrSyncInProgress) {
		slog.Info("Skipping scheduled sync, another sync is running", "trigger", trigger)
		return
	}
	if err != nil {
		slog.Error("Scheduled sync failed", "trigger", trigger, "error", err)
		return
	}
	slog.Info("Scheduled sync finished", "trigger", trigger, "synced", count)
}

package scheduler

import (
	"context"
	"log"
	"time"

	"trackline/internal/engine"
)

const defaultInterval = time.Hour

// Capturer is the trigger surface of the engine.
type Capturer interface {
	Bootstrap(ctx context.Context) (engine.CaptureResult, error)
	CaptureToday(ctx context.Context) (engine.CaptureResult, error)
}

// Scheduler bootstraps the snapshot history and then captures on every tick.
// Ticks are much shorter than a day; repeated captures on the same date are
// no-ops, and a failed capture is retried on the next tick.
type Scheduler struct {
	capturer Capturer
	interval time.Duration
	logger   *log.Logger
	trigger  chan struct{}
}

func New(c Capturer, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		capturer: c,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks for a capture as soon as possible, e.g. after a bulk sync.
// Requests made while one is already pending are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	if res, err := s.capturer.Bootstrap(ctx); err != nil {
		s.logger.Printf("scheduler: bootstrap failed: %v", err)
	} else if res.Created {
		s.logger.Printf("scheduler: bootstrapped snapshot history at %s", res.Date)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.capture(ctx, "tick")
		case <-s.trigger:
			s.capture(ctx, "trigger")
		}
	}
}

func (s *Scheduler) capture(ctx context.Context, reason string) {
	res, err := s.capturer.CaptureToday(ctx)
	if err != nil {
		s.logger.Printf("scheduler: capture (%s) failed, retrying next tick: %v", reason, err)
		return
	}
	if res.Created {
		s.logger.Printf("scheduler: captured %s (%d initiatives)", res.Date, res.Initiatives)
	}
}

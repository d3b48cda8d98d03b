package license

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bootlicense/internal/infrastructure"
)

// Validator is the part of Engine the scheduler drives
type Validator interface {
	Validate(ctx context.Context) (Outcome, error)
}

// Scheduler revalidates the license periodically
type Scheduler struct {
	validator Validator
	interval  time.Duration
	logger    *slog.Logger
}

// Handle stops a running scheduler
type Handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. A non-positive interval falls back to
// one hour.
func NewScheduler(v Validator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		validator: v,
		interval:  interval,
		logger:    logger.With(slog.String("component", "license_scheduler")),
	}
}

// Start validates immediately and then once per interval until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.run(ctx)
	}()
	return h
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Revalidation scheduler started", slog.Duration("interval", s.interval))
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.WithoutCancel(ctx), "Revalidation scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// One trace id per scheduled validation
	ctx = infrastructure.WithTraceID(ctx, infrastructure.GenerateTraceID())
	out, err := s.validator.Validate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "Scheduled validation failed", slog.String("error", err.Error()))
		}
		return
	}
	s.logger.DebugContext(ctx, "Scheduled validation", slog.String("outcome", string(out.Kind)))
}

// Stop cancels the scheduler and waits for an in-flight validation to end
func (h *Handle) Stop() {
	h.cancel()
	h.wg.Wait()
}

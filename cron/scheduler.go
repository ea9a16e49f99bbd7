package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SingleFlightScheduler fires a job on a fixed period and never runs two
// executions at once. A tick that arrives while the job is still running is
// dropped, not queued.
type SingleFlightScheduler struct {
	name   string
	logger *zap.Logger

	running atomic.Bool
	// mu guards the fields below and orders wg.Add against Stop's wg.Wait.
	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewSingleFlightScheduler(name string, logger *zap.Logger) *SingleFlightScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SingleFlightScheduler{name: name, logger: logger}
}

// Start begins firing job every interval. Calling Start on a started or
// stopped scheduler is a no-op.
func (s *SingleFlightScheduler) Start(ctx context.Context, interval time.Duration, job func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.TryRun(loopCtx, job)
			}
		}
	}(s.done)

	s.logger.Info("scheduler started", zap.String("job", s.name), zap.Duration("interval", interval))
}

// TryRun executes job now unless a previous execution is still in flight or
// the scheduler has been stopped. It reports whether the job ran.
func (s *SingleFlightScheduler) TryRun(ctx context.Context, job func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.logger.Debug("previous run still in progress, skipping tick", zap.String("job", s.name))
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled job panicked", zap.String("job", s.name), zap.Any("panic", r))
			}
		}()
		job(ctx)
	}()
	return true
}

// Running reports whether an execution is in flight.
func (s *SingleFlightScheduler) Running() bool {
	return s.running.Load()
}

// Stop cancels future firings and waits for an in-flight execution to return.
// A stopped scheduler runs nothing again.
func (s *SingleFlightScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped", zap.String("job", s.name))
}

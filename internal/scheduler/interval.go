package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/bulkupload/internal/logger"
)

// IntervalScheduler runs a Runner on a time.Ticker. Runs never overlap: a
// tick that fires during a run is dropped by the ticker.
type IntervalScheduler struct {
	config Config
	runner Runner

	mu        sync.RWMutex
	running   bool
	stopped   bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}

	stats struct {
		lastRunTime    time.Time
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		lastError      string
	}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner Runner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}

	return &IntervalScheduler{
		config:   config,
		runner:   runner,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the loop in a goroutine. A scheduler cannot be restarted
// once it has stopped.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.nextRunTime = time.Now()
	if !s.config.Immediate {
		s.stats.nextRunTime = s.stats.nextRunTime.Add(s.config.Interval)
	}

	go s.loop(ctx)
	return nil
}

func (s *IntervalScheduler) loop(ctx context.Context) {
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.doneChan)
	})

	if s.config.Immediate {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *IntervalScheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.stats.lastRunTime = time.Now()
	s.stats.totalRuns++
	run := s.stats.totalRuns
	s.mu.Unlock()

	err := s.runner.RunOnce(ctx)

	s.mu.Lock()
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	if err != nil {
		s.stats.failedRuns++
		s.stats.lastError = err.Error()
	} else {
		s.stats.successfulRuns++
		s.stats.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logger.Get().Warn("scheduled run failed", "run", run, "error", err)
		return
	}
	logger.Get().Debug("scheduled run finished", "run", run)
}

// Stop ends the loop and waits for the current run to return
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.doneChan
	return nil
}

// Done is closed once the loop has exited, either through Stop or through
// cancellation of the context passed to Start
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.doneChan
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		LastRunTime:    s.stats.lastRunTime,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		LastError:      s.stats.lastError,
	}
}

package scheduler

import (
	"context"
	"time"
)

// Scheduler runs a Runner repeatedly until stopped
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Done is closed once the loop has exited
	Done() <-chan struct{}

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Interval is the pause between the end of one run and the next tick
	Interval time.Duration

	// Immediate runs once as soon as the scheduler starts
	Immediate bool
}

// Runner performs one pass of the scheduled work
type Runner interface {
	RunOnce(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// RunOnce calls f(ctx)
func (f RunnerFunc) RunOnce(ctx context.Context) error {
	return f(ctx)
}

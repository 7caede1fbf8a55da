package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ning0612/bulkupload/internal/daemon"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
	"github.com/Ning0612/bulkupload/internal/scheduler"
)

// RunHook observes each run of a watch loop
type RunHook func(result *RunResult, err error)

// Watch runs req immediately and then every interval until ctx is
// cancelled. A failed run does not stop the loop; a run skipped because
// another process holds the identifier lock is logged and retried on the
// next tick. Only one watcher per identifier may run; its PID file lets
// `stop` find it. Watch returns ctx.Err().
func (s *SyncService) Watch(ctx context.Context, req Request, interval time.Duration, hook RunHook) error {
	if req.DryRun {
		return fmt.Errorf("%w: watch cannot be combined with dry-run", domain.ErrConfigInvalid)
	}
	if _, err := s.prepare(req.Identifier, req.Dir); err != nil {
		return err
	}

	log := logger.With("identifier", req.Identifier, "interval", interval)

	pidPath, err := daemon.WatchPIDPath(s.config.DataDir, req.Identifier)
	if err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(pidPath)
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			log.Warn("failed to remove PID file", "path", pidPath, "error", err)
		}
	}()

	runner := scheduler.RunnerFunc(func(ctx context.Context) error {
		result, err := s.Run(ctx, req)
		if hook != nil {
			hook(result, err)
		}
		if errors.Is(err, domain.ErrLockHeld) {
			log.Warn("Skipping run, identifier is busy", "error", err)
		}
		return err
	})

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:  interval,
		Immediate: true,
	}, runner)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("Watching for changes")

	<-sched.Done()

	status := sched.Status()
	log.Info("Watch stopped",
		"runs", status.TotalRuns,
		"successful", status.SuccessfulRuns,
		"failed", status.FailedRuns)
	return ctx.Err()
}

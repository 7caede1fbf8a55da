package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/config"
	"github.com/Ning0612/bulkupload/internal/core/reconcile"
	"github.com/Ning0612/bulkupload/internal/core/scan"
	"github.com/Ning0612/bulkupload/internal/core/transfer"
	"github.com/Ning0612/bulkupload/internal/core/verify"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/lock"
	"github.com/Ning0612/bulkupload/internal/logger"
	"github.com/Ning0612/bulkupload/internal/progress"
	"github.com/Ning0612/bulkupload/internal/state"
)

// Request describes one upload run
type Request struct {
	Identifier string
	Dir        string

	// DryRun plans without uploading or writing the ledger
	DryRun bool

	// SkipVerify disables the verification pass for this run
	SkipVerify bool
}

// RunResult collects what each stage of a run produced. Stages that did
// not run are nil.
type RunResult struct {
	Identifier string
	Dir        string
	Status     string

	Scan     *scan.Result
	Plan     *domain.Plan
	Transfer *transfer.Summary
	Verify   *verify.Report

	StartTime time.Time
	Duration  time.Duration
}

// Mismatches returns the number of files that failed verification
func (r *RunResult) Mismatches() int {
	if r.Verify == nil {
		return 0
	}
	return len(r.Verify.Mismatches)
}

// SyncService runs the upload pipeline against one remote store
type SyncService struct {
	config   *config.Config
	fs       afero.Fs
	store    adapter.Adapter
	state    *state.Manager
	reporter progress.Reporter
}

// NewSyncService creates a new sync service. The service does not own
// store or st; the caller closes them.
func NewSyncService(cfg *config.Config, store adapter.Adapter, st *state.Manager) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("state manager cannot be nil")
	}

	return &SyncService{
		config:   cfg,
		fs:       afero.NewOsFs(),
		store:    store,
		state:    st,
		reporter: progress.NullReporter{},
	}, nil
}

// SetProgressReporter sets the progress reporter for transfers
func (s *SyncService) SetProgressReporter(reporter progress.Reporter) {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	s.reporter = reporter
}

// SetFs replaces the filesystem the local tree is read from
func (s *SyncService) SetFs(fs afero.Fs) {
	s.fs = fs
}

// prepare validates the request and resolves the directory
func (s *SyncService) prepare(identifier, dir string) (string, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return "", err
	}
	if dir == "" {
		return "", fmt.Errorf("%w: no directory given", domain.ErrDirectoryNotFound)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := scan.Validate(s.fs, abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (s *SyncService) acquire(identifier string) (*lock.FileLock, error) {
	l, err := lock.New(s.config.LockDir(), identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}
	l.SetStaleTimeout(s.config.Sync.LockStaleTimeout)
	if err := l.Acquire(); err != nil {
		return nil, err
	}
	return l, nil
}

func release(l *lock.FileLock, identifier string) {
	if err := l.Release(); err != nil {
		logger.Get().Error("failed to release lock", "identifier", identifier, "error", err)
	}
}

// scanFiles scans dir and rejects a tree without regular files
func (s *SyncService) scanFiles(ctx context.Context, dir string) (*scan.Result, error) {
	result, err := scan.New(s.fs).Scan(ctx, dir)
	if err != nil {
		return result, err
	}
	if len(result.Files) == 0 {
		return result, fmt.Errorf("%w: %s", domain.ErrDirectoryEmpty, dir)
	}
	return result, nil
}

// Run executes the pipeline: validate the directory, take the identifier
// lock, scan, reconcile against the ledger (seeding it from the remote
// inventory when empty), transfer, verify, and record the run.
//
// Per-file transfer failures do not make Run fail; they are reported in
// the result and the run is recorded as partial. After a cancellation the
// result so far is returned with the context error.
func (s *SyncService) Run(ctx context.Context, req Request) (*RunResult, error) {
	dir, err := s.prepare(req.Identifier, req.Dir)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Identifier: req.Identifier,
		Dir:        dir,
		StartTime:  time.Now(),
	}
	log := logger.With("identifier", req.Identifier, "dir", dir)

	if req.DryRun {
		err := s.plan(ctx, result, true)
		result.Duration = time.Since(result.StartTime)
		result.Status = statusOf(result, err)
		return result, err
	}

	l, err := s.acquire(req.Identifier)
	if err != nil {
		return nil, err
	}
	defer release(l, req.Identifier)

	log.Info("Upload run started")
	err = s.run(ctx, result, req)
	result.Duration = time.Since(result.StartTime)
	result.Status = statusOf(result, err)

	s.record(ctx, result, err)

	log.Info("Upload run finished",
		"status", result.Status,
		"duration", result.Duration.Round(time.Millisecond),
		"mismatches", result.Mismatches())
	return result, err
}

func (s *SyncService) plan(ctx context.Context, result *RunResult, dryRun bool) error {
	scanned, err := s.scanFiles(ctx, result.Dir)
	result.Scan = scanned
	if err != nil {
		return err
	}

	plan, err := reconcile.New(s.state, s.store).
		Reconcile(ctx, result.Identifier, scanned.Files, reconcile.Options{DryRun: dryRun})
	result.Plan = plan
	return err
}

func (s *SyncService) run(ctx context.Context, result *RunResult, req Request) error {
	if err := s.plan(ctx, result, false); err != nil {
		return err
	}

	summary, err := transfer.New(s.fs, s.store, s.state, s.reporter).
		Execute(ctx, req.Identifier, result.Plan)
	result.Transfer = summary
	if err != nil {
		return err
	}

	if req.SkipVerify || !s.config.Sync.Verify {
		return nil
	}

	report, err := verify.New(s.fs, s.store, s.state, s.config.Sync.HashWorkers).
		Verify(ctx, req.Identifier, result.Scan.Files)
	result.Verify = report
	return err
}

// VerifyOnly runs the verification pass without transferring anything.
// Hashes computed along the way are stored in the ledger.
func (s *SyncService) VerifyOnly(ctx context.Context, identifier, dir string) (*verify.Report, error) {
	abs, err := s.prepare(identifier, dir)
	if err != nil {
		return nil, err
	}

	l, err := s.acquire(identifier)
	if err != nil {
		return nil, err
	}
	defer release(l, identifier)

	scanned, err := s.scanFiles(ctx, abs)
	if err != nil {
		return nil, err
	}

	return verify.New(s.fs, s.store, s.state, s.config.Sync.HashWorkers).
		Verify(ctx, identifier, scanned.Files)
}

func statusOf(result *RunResult, err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return state.RunCancelled
	case err != nil:
		return state.RunFailed
	case result.Transfer != nil && result.Transfer.Failed > 0:
		return state.RunPartial
	case result.Verify != nil && !result.Verify.OK():
		return state.RunPartial
	default:
		return state.RunSuccess
	}
}

// record stores the run in the history; it must happen even when ctx is
// already cancelled
func (s *SyncService) record(ctx context.Context, result *RunResult, runErr error) {
	rec := state.RunRecord{
		Identifier: result.Identifier,
		LocalDir:   result.Dir,
		StartTime:  result.StartTime,
		EndTime:    result.StartTime.Add(result.Duration),
		Status:     result.Status,
		Mismatches: result.Mismatches(),
	}
	if t := result.Transfer; t != nil {
		rec.FilesUploaded = t.Stored()
		rec.FilesFailed = t.Failed
		rec.BytesUploaded = t.BytesUploaded
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if err := s.state.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		logger.Get().Error("failed to record run", "identifier", result.Identifier, "error", err)
	}
}

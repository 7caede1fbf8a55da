// Package transfer sends the files of a plan and records each outcome in
// the upload ledger before moving on to the next file.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
	"github.com/Ning0612/bulkupload/internal/progress"
)

// Uploader sends one file to the remote store
type Uploader interface {
	Upload(ctx context.Context, req adapter.UploadRequest) (adapter.UploadResult, error)
}

// Ledger records transfer outcomes
type Ledger interface {
	Upsert(ctx context.Context, identifier string, entries ...domain.LedgerEntry) error
}

// Summary describes what a run transferred
type Summary struct {
	Attempted int
	Succeeded int
	Conflicts int
	Failed    int

	// NotStarted counts transfers dropped because of cancellation
	NotStarted int

	FailedPaths   []string
	BytesUploaded int64
	Duration      time.Duration
}

// Stored returns the number of files now present remotely
func (s *Summary) Stored() int {
	return s.Succeeded + s.Conflicts
}

// Executor runs the transfers of a plan one file at a time
type Executor struct {
	fs       afero.Fs
	store    Uploader
	ledger   Ledger
	reporter progress.Reporter
}

// New creates an Executor. A nil reporter disables progress reporting.
func New(fs afero.Fs, store Uploader, ledger Ledger, reporter progress.Reporter) *Executor {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	return &Executor{
		fs:       fs,
		store:    store,
		ledger:   ledger,
		reporter: reporter,
	}
}

type outcome struct {
	stored   bool
	conflict bool
	bytes    int64
	err      error
}

// Execute transfers every non-skip decision in order. Each file's outcome
// is committed to the ledger before the next file starts; the commit of
// the file in flight when ctx is cancelled still happens.
//
// Per-file failures are counted, not returned. The returned error is
// ctx.Err() after a cancellation, or the ledger error that stopped the run.
func (e *Executor) Execute(ctx context.Context, identifier string, plan *domain.Plan) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}
	log := logger.With("identifier", identifier)

	transfers := plan.Transfers()
	e.reporter.SetTotal(len(transfers), plan.Stats.BytesToTransfer)

	var bytesDone int64
	for i, d := range transfers {
		if err := ctx.Err(); err != nil {
			summary.NotStarted = len(transfers) - i
			summary.Duration = time.Since(start)
			log.Warn("Upload cancelled", "remaining", summary.NotStarted)
			return summary, err
		}

		out := e.transfer(ctx, identifier, d)
		summary.Attempted++

		entry := domain.LedgerEntry{
			Identifier: identifier,
			Path:       d.File.Path,
			Size:       d.File.Size,
			Uploaded:   out.stored,
		}
		if err := e.ledger.Upsert(context.WithoutCancel(ctx), identifier, entry); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("failed to record outcome of %s: %w", d.File.Path, err)
		}

		switch {
		case out.conflict:
			summary.Conflicts++
		case out.stored:
			summary.Succeeded++
			summary.BytesUploaded += out.bytes
		default:
			summary.Failed++
			summary.FailedPaths = append(summary.FailedPaths, d.File.Path)
		}

		bytesDone += d.File.Size
		e.reporter.OverallProgress(i+1, bytesDone)
	}

	summary.Duration = time.Since(start)
	log.Info("Upload finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"conflicts", summary.Conflicts,
		"failed", summary.Failed,
		"bytes", progress.FormatBytes(summary.BytesUploaded),
		"duration", summary.Duration.Round(time.Millisecond))

	return summary, ctx.Err()
}

// transfer sends one file. Any error, including an interrupted
// transfer, is a failed outcome.
func (e *Executor) transfer(ctx context.Context, identifier string, d domain.Decision) outcome {
	log := logger.With("identifier", identifier, "file", d.File.Path)
	e.reporter.Start(d.File.Path, d.File.Size)

	fail := func(err error) outcome {
		e.reporter.Error(err)
		return outcome{err: err}
	}

	f, err := e.fs.Open(d.File.AbsPath)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, d.File.Path, err)
		log.Warn("Skipping unreadable file", "error", err)
		return fail(err)
	}
	defer f.Close()

	body := progress.NewReader(f, e.reporter)
	res, err := e.store.Upload(ctx, adapter.UploadRequest{
		Identifier: identifier,
		Name:       d.File.Path,
		Body:       body,
		Size:       d.File.Size,
		Overwrite:  d.Action == domain.ActionReupload,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Upload interrupted", "error", err)
		} else {
			log.Error("Upload failed", "error", err)
		}
		return fail(err)
	}

	switch res.Status {
	case adapter.UploadSucceeded:
		log.Info("Uploaded", "size", progress.FormatBytes(d.File.Size), "reason", d.Reason)
		e.reporter.Complete()
		return outcome{stored: true, bytes: body.Transferred()}
	case adapter.UploadConflict:
		log.Info("Already present remotely", "status", res.StatusCode)
		e.reporter.Complete()
		return outcome{stored: true, conflict: true}
	default:
		err := res.Err()
		log.Error("Upload rejected", "status", res.StatusCode, "detail", res.Detail)
		return fail(err)
	}
}

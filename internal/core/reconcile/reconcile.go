// Package reconcile compares the local tree against the upload ledger and
// decides, per file, whether it has to be sent.
package reconcile

import (
	"context"
	"fmt"

	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
)

// Ledger is the part of the upload ledger reconciliation needs
type Ledger interface {
	Load(ctx context.Context, identifier string) (map[string]domain.LedgerEntry, error)
	Upsert(ctx context.Context, identifier string, entries ...domain.LedgerEntry) error
}

// Lister lists a remote item
type Lister interface {
	List(ctx context.Context, identifier string) ([]domain.RemoteFile, error)
}

// Options controls a reconciliation
type Options struct {
	// DryRun keeps seeded entries in memory instead of committing them
	DryRun bool
}

// Reconciler builds upload plans
type Reconciler struct {
	ledger     Ledger
	remote     Lister
	classifier Classifier
}

// New creates a Reconciler using size-based classification
func New(ledger Ledger, remote Lister) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		remote:     remote,
		classifier: NewSizeClassifier(),
	}
}

// WithClassifier replaces the classification strategy
func (r *Reconciler) WithClassifier(c Classifier) *Reconciler {
	r.classifier = c
	return r
}

// Reconcile classifies files, in the order given, against a ledger
// snapshot taken before any transfer. An empty ledger is first seeded
// from the remote inventory.
//
// On cancellation the plan holds the decisions made so far and ctx.Err()
// is returned alongside it.
func (r *Reconciler) Reconcile(ctx context.Context, identifier string, files []domain.LocalFile, opts Options) (*domain.Plan, error) {
	plan := &domain.Plan{
		Identifier: identifier,
		Decisions:  make([]domain.Decision, 0, len(files)),
	}

	snapshot, err := r.ledger.Load(ctx, identifier)
	if err != nil {
		return plan, fmt.Errorf("failed to load ledger: %w", err)
	}

	if len(snapshot) == 0 {
		seeded, err := r.seed(ctx, identifier, opts)
		if err != nil {
			return plan, err
		}
		plan.Seeded = len(seeded)

		if opts.DryRun {
			snapshot = seeded
		} else if len(seeded) > 0 {
			snapshot, err = r.ledger.Load(ctx, identifier)
			if err != nil {
				return plan, fmt.Errorf("failed to reload ledger: %w", err)
			}
		}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			plan.Stats = computeStats(plan.Decisions)
			return plan, err
		}

		var entry *domain.LedgerEntry
		if e, ok := snapshot[f.Path]; ok {
			entry = &e
		}
		plan.Decisions = append(plan.Decisions, r.classifier.Classify(f, entry))
	}

	plan.Stats = computeStats(plan.Decisions)
	return plan, nil
}

// seed lists the remote item and records every remote file as uploaded.
// An interrupted listing is discarded so a later run seeds again from a
// complete one.
func (r *Reconciler) seed(ctx context.Context, identifier string, opts Options) (map[string]domain.LedgerEntry, error) {
	log := logger.With("identifier", identifier)
	log.Info("Ledger is empty, seeding from remote inventory")

	remote, err := r.remote.List(ctx, identifier)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Seeding interrupted, nothing committed", "listed", len(remote))
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to seed ledger: %w", err)
	}

	seeded := make(map[string]domain.LedgerEntry, len(remote))
	entries := make([]domain.LedgerEntry, 0, len(remote))
	for _, rf := range remote {
		e := domain.LedgerEntry{
			Identifier: identifier,
			Path:       rf.Name,
			Size:       rf.Size,
			Uploaded:   true,
		}
		if !rf.HasSize() {
			e.Size = domain.UnknownSize
		}
		if err := e.Validate(); err != nil {
			log.Warn("Skipping remote record", "file", rf.Name, "error", err)
			continue
		}
		if _, dup := seeded[e.Path]; dup {
			continue
		}
		seeded[e.Path] = e
		entries = append(entries, e)
	}

	if len(entries) == 0 {
		log.Info("Remote item is empty, nothing to seed")
		return seeded, nil
	}

	if !opts.DryRun {
		if err := r.ledger.Upsert(ctx, identifier, entries...); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to commit seeded entries: %w", err)
		}
	}

	log.Info("Seeded ledger from remote inventory", "files", len(entries), "dry_run", opts.DryRun)
	return seeded, nil
}

func computeStats(decisions []domain.Decision) domain.PlanStats {
	stats := domain.PlanStats{TotalFiles: len(decisions)}
	for _, d := range decisions {
		switch d.Action {
		case domain.ActionSkip:
			stats.FilesToSkip++
		case domain.ActionUpload:
			stats.FilesToUpload++
			stats.BytesToTransfer += d.File.Size
		case domain.ActionReupload:
			stats.FilesToReupload++
			stats.BytesToTransfer += d.File.Size
		}
	}
	return stats
}

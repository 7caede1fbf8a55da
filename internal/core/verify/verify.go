// Package verify compares the local tree against the remote inventory by
// size and content hash.
package verify

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
)

// Store is the remote side of a verification
type Store interface {
	List(ctx context.Context, identifier string) ([]domain.RemoteFile, error)
	HashAlgorithm() checksum.Algorithm
}

// Ledger provides cached hashes and stores freshly computed ones
type Ledger interface {
	Load(ctx context.Context, identifier string) (map[string]domain.LedgerEntry, error)
	Upsert(ctx context.Context, identifier string, entries ...domain.LedgerEntry) error
}

// Reason tells why a file did not verify
type Reason string

const (
	ReasonMissing Reason = "missing"
	ReasonSize    Reason = "size"
	ReasonHash    Reason = "hash"
)

// Mismatch is one file whose remote copy differs
type Mismatch struct {
	Path       string
	Reason     Reason
	LocalSize  int64
	RemoteSize int64
	LocalHash  string
	RemoteHash string
}

// Report is the result of a verification pass
type Report struct {
	Checked int
	Reused  int
	Hashed  int

	// Mismatches in scan order
	Mismatches []Mismatch

	// Unreadable lists files that could not be hashed and were not compared
	Unreadable []string

	// NotChecked lists the files a cancelled pass stopped before comparing
	NotChecked []string
}

// OK reports whether every file verified
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Unreadable) == 0 && len(r.NotChecked) == 0
}

// Paths returns the mismatched paths in scan order
func (r *Report) Paths() []string {
	out := make([]string, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		out = append(out, m.Path)
	}
	return out
}

// Verifier runs verification passes
type Verifier struct {
	fs      afero.Fs
	store   Store
	ledger  Ledger
	calc    checksum.Calculator
	workers int

	// serializes ledger writes from hashing workers
	mu sync.Mutex
}

// New creates a Verifier hashing on up to workers goroutines. workers <= 0
// uses the number of CPUs.
func New(fs afero.Fs, store Store, ledger Ledger, workers int) *Verifier {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Verifier{
		fs:      fs,
		store:   store,
		ledger:  ledger,
		calc:    checksum.NewDefaultCalculator(),
		workers: workers,
	}
}

// WithCalculator replaces the checksum calculator
func (v *Verifier) WithCalculator(calc checksum.Calculator) *Verifier {
	v.calc = calc
	return v
}

type fileResult struct {
	done       bool
	hash       string
	reused     bool
	unreadable bool
}

// Verify lists the remote item once and checks every file against it.
// Hashes are taken from the ledger when still valid; otherwise they are
// computed and written back to entries recorded with the same size.
//
// When ctx is cancelled Verify stops starting new files and returns the
// report of the files already compared, with the rest in NotChecked,
// together with ctx.Err().
func (v *Verifier) Verify(ctx context.Context, identifier string, files []domain.LocalFile) (*Report, error) {
	log := logger.With("identifier", identifier)

	remote, err := v.store.List(ctx, identifier)
	if err != nil {
		if ctx.Err() != nil {
			return notChecked(files), ctx.Err()
		}
		return nil, fmt.Errorf("failed to list remote item: %w", err)
	}
	remoteByName := make(map[string]domain.RemoteFile, len(remote))
	for _, rf := range remote {
		remoteByName[rf.Name] = rf
	}

	snapshot, err := v.ledger.Load(ctx, identifier)
	if err != nil {
		if ctx.Err() != nil {
			return notChecked(files), ctx.Err()
		}
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	algo := v.store.HashAlgorithm()
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, f := range files {
		if gctx.Err() != nil {
			break
		}
		var entry *domain.LedgerEntry
		if e, ok := snapshot[f.Path]; ok {
			entry = &e
		}
		g.Go(func() error {
			res, err := v.hash(gctx, identifier, algo, f, entry)
			results[i] = res
			return err
		})
	}
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return nil, err
	}

	report := &Report{}
	for i, f := range files {
		res := results[i]
		switch {
		case !res.done:
			report.NotChecked = append(report.NotChecked, f.Path)
			continue
		case res.unreadable:
			report.Unreadable = append(report.Unreadable, f.Path)
			continue
		}
		report.Checked++
		if res.reused {
			report.Reused++
		} else {
			report.Hashed++
		}

		if m, bad := compare(f, res.hash, remoteByName); bad {
			log.Warn("Verification mismatch", "file", m.Path, "reason", m.Reason,
				"local_size", m.LocalSize, "remote_size", m.RemoteSize)
			report.Mismatches = append(report.Mismatches, m)
		}
	}

	if ctx.Err() != nil {
		log.Warn("Verification cancelled",
			"checked", report.Checked,
			"not_checked", len(report.NotChecked))
		return report, ctx.Err()
	}

	log.Info("Verification finished",
		"checked", report.Checked,
		"mismatches", len(report.Mismatches),
		"unreadable", len(report.Unreadable),
		"hashes_reused", report.Reused)
	return report, nil
}

// notChecked is the report of a pass cancelled before comparing anything
func notChecked(files []domain.LocalFile) *Report {
	report := &Report{}
	for _, f := range files {
		report.NotChecked = append(report.NotChecked, f.Path)
	}
	return report
}

func (v *Verifier) hash(ctx context.Context, identifier string, algo checksum.Algorithm, f domain.LocalFile, entry *domain.LedgerEntry) (fileResult, error) {
	if entry != nil {
		if h, ok := entry.CachedHash(f, string(algo)); ok {
			return fileResult{done: true, hash: h, reused: true}, nil
		}
	}

	h, err := checksum.File(ctx, v.calc, v.fs, f.AbsPath, algo)
	if err != nil {
		if ctx.Err() != nil {
			return fileResult{}, ctx.Err()
		}
		if !errors.Is(err, domain.ErrUnreadableFile) {
			err = fmt.Errorf("%w: %v", domain.ErrUnreadableFile, err)
		}
		logger.With("identifier", identifier).Warn("Skipping unreadable file", "file", f.Path, "error", err)
		return fileResult{done: true, unreadable: true}, nil
	}

	// a computed hash is kept even when the pass is being cancelled
	if entry != nil && entry.Size == f.Size {
		updated := *entry
		updated.ContentHash = h
		updated.HashAlgorithm = string(algo)
		updated.HashModTime = f.ModTime

		v.mu.Lock()
		err := v.ledger.Upsert(context.WithoutCancel(ctx), identifier, updated)
		v.mu.Unlock()
		if err != nil {
			return fileResult{}, fmt.Errorf("failed to cache hash of %s: %w", f.Path, err)
		}
	}

	return fileResult{done: true, hash: h}, nil
}

func compare(f domain.LocalFile, localHash string, remote map[string]domain.RemoteFile) (Mismatch, bool) {
	m := Mismatch{
		Path:       f.Path,
		LocalSize:  f.Size,
		LocalHash:  localHash,
		RemoteSize: domain.UnknownSize,
	}

	rf, ok := remote[f.Path]
	if !ok {
		m.Reason = ReasonMissing
		return m, true
	}
	m.RemoteSize = rf.Size
	m.RemoteHash = rf.Hash

	if rf.HasSize() && rf.Size != f.Size {
		m.Reason = ReasonSize
		return m, true
	}
	if rf.Hash == "" || !strings.EqualFold(rf.Hash, localHash) {
		m.Reason = ReasonHash
		return m, true
	}
	return m, false
}

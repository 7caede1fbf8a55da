package reconcile

import "github.com/Ning0612/bulkupload/internal/domain"

// Classifier decides what to do with one local file given its ledger entry
type Classifier interface {
	// Classify returns the decision for file. entry is nil when the
	// ledger has no row for the path.
	Classify(file domain.LocalFile, entry *domain.LedgerEntry) domain.Decision
}

// SizeClassifier compares sizes only. Hashes are left to the
// verification pass, so two different files of equal size are
// classified as skip here.
type SizeClassifier struct{}

// NewSizeClassifier creates a new SizeClassifier
func NewSizeClassifier() *SizeClassifier {
	return &SizeClassifier{}
}

// Classify implements the Classifier interface
func (c *SizeClassifier) Classify(file domain.LocalFile, entry *domain.LedgerEntry) domain.Decision {
	d := domain.Decision{File: file}

	switch {
	case entry == nil:
		d.Action, d.Reason = domain.ActionUpload, domain.ReasonNeverSeen
	case !entry.Uploaded:
		d.Action, d.Reason = domain.ActionUpload, domain.ReasonPreviouslyFailed
	case entry.Size == file.Size:
		d.Action, d.Reason = domain.ActionSkip, domain.ReasonAlreadyUploaded
	default:
		// includes seeded entries of unknown size
		d.Action, d.Reason = domain.ActionReupload, domain.ReasonSizeChanged
	}
	return d
}

package reconcile

import (
	"testing"

	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/testutil"
)

func TestSizeClassifier(t *testing.T) {
	classifier := NewSizeClassifier()
	file := testutil.LocalFile("a.txt", 150)

	tests := []struct {
		name       string
		entry      *domain.LedgerEntry
		wantAction domain.Action
		wantReason domain.Reason
	}{
		{
			name:       "no entry",
			entry:      nil,
			wantAction: domain.ActionUpload,
			wantReason: domain.ReasonNeverSeen,
		},
		{
			name:       "previous attempt failed",
			entry:      &domain.LedgerEntry{Path: "a.txt", Size: 150, Uploaded: false},
			wantAction: domain.ActionUpload,
			wantReason: domain.ReasonPreviouslyFailed,
		},
		{
			name:       "failed with other size",
			entry:      &domain.LedgerEntry{Path: "a.txt", Size: 10, Uploaded: false},
			wantAction: domain.ActionUpload,
			wantReason: domain.ReasonPreviouslyFailed,
		},
		{
			name:       "uploaded same size",
			entry:      &domain.LedgerEntry{Path: "a.txt", Size: 150, Uploaded: true},
			wantAction: domain.ActionSkip,
			wantReason: domain.ReasonAlreadyUploaded,
		},
		{
			name:       "uploaded size grew",
			entry:      &domain.LedgerEntry{Path: "a.txt", Size: 100, Uploaded: true},
			wantAction: domain.ActionReupload,
			wantReason: domain.ReasonSizeChanged,
		},
		{
			name:       "seeded without size",
			entry:      &domain.LedgerEntry{Path: "a.txt", Size: domain.UnknownSize, Uploaded: true},
			wantAction: domain.ActionReupload,
			wantReason: domain.ReasonSizeChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := classifier.Classify(file, tt.entry)
			if d.Action != tt.wantAction {
				t.Errorf("Expected action %s, got %s", tt.wantAction, d.Action)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, d.Reason)
			}
			if d.File.Path != file.Path {
				t.Errorf("Expected file %s, got %s", file.Path, d.File.Path)
			}
		})
	}
}

func TestSizeClassifier_EmptyFile(t *testing.T) {
	classifier := NewSizeClassifier()

	d := classifier.Classify(testutil.LocalFile("empty", 0), &domain.LedgerEntry{Path: "empty", Size: 0, Uploaded: true})
	if d.Action != domain.ActionSkip {
		t.Errorf("Expected skip for uploaded empty file, got %s", d.Action)
	}
}

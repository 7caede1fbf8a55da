package adapter

import (
	"context"
	"fmt"
	"io"

	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

// Adapter is a remote store holding items. Implementations translate
// store-specific responses into UploadStatus values and domain errors.
type Adapter interface {
	// List returns the inventory of an item. An item that does not exist
	// yet has an empty inventory. When ctx is cancelled mid-listing the
	// records collected so far are returned together with ctx.Err().
	List(ctx context.Context, identifier string) ([]domain.RemoteFile, error)

	// Upload sends one file. A non-nil error means the transfer did not
	// happen (network failure, cancellation); otherwise the result says
	// how the store answered.
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)

	// HashAlgorithm is the content hash the store publishes in List
	HashAlgorithm() checksum.Algorithm

	// Close releases any resources held by the adapter
	Close() error
}

// UploadRequest describes one file transfer
type UploadRequest struct {
	Identifier string

	// Name is the destination path inside the item, forward slashes
	Name string

	// Body is rewound by the transport when it retries
	Body io.ReadSeeker
	Size int64

	// Overwrite is set for files whose size changed since the last
	// upload. Without it a store may answer UploadConflict for an
	// existing file.
	Overwrite bool
}

// UploadStatus is the store's answer to an upload
type UploadStatus int

const (
	UploadSucceeded UploadStatus = iota
	UploadConflict
	UploadFailed
)

// String returns the status name used in logs
func (s UploadStatus) String() string {
	switch s {
	case UploadSucceeded:
		return "success"
	case UploadConflict:
		return "conflict_exists"
	case UploadFailed:
		return "failure"
	default:
		return fmt.Sprintf("UploadStatus(%d)", int(s))
	}
}

// UploadResult is the outcome of a completed request
type UploadResult struct {
	Status     UploadStatus
	StatusCode int
	Detail     string
}

// Stored reports whether the file is now present remotely
func (r UploadResult) Stored() bool {
	return r.Status == UploadSucceeded || r.Status == UploadConflict
}

// Err converts a failed result into an error wrapping domain.ErrUploadRejected
func (r UploadResult) Err() error {
	if r.Stored() {
		return nil
	}
	if r.StatusCode != 0 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrUploadRejected, r.StatusCode, r.Detail)
	}
	return fmt.Errorf("%w: %s", domain.ErrUploadRejected, r.Detail)
}

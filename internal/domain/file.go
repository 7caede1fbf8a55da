package domain

import (
	"fmt"
	"time"
)

// UnknownSize marks a size the remote store did not publish
const UnknownSize int64 = -1

// LocalFile is one regular file found by a scan
type LocalFile struct {
	// Path is relative to the scan root and always uses forward slashes
	Path string

	// AbsPath is the location used to open the file
	AbsPath string

	// Size in bytes
	Size int64

	// ModTime is the last modification time reported by the filesystem
	ModTime time.Time
}

// NewLocalFile builds a LocalFile, rejecting values no filesystem produces
func NewLocalFile(path, absPath string, size int64, modTime time.Time) (LocalFile, error) {
	if path == "" {
		return LocalFile{}, fmt.Errorf("local file: empty relative path")
	}
	if size < 0 {
		return LocalFile{}, fmt.Errorf("local file %s: negative size %d", path, size)
	}
	return LocalFile{Path: path, AbsPath: absPath, Size: size, ModTime: modTime}, nil
}

// RemoteFile is one entry of a remote item's inventory
type RemoteFile struct {
	// Name is the path inside the item
	Name string

	// Size in bytes, or UnknownSize
	Size int64

	// Hash is the content hash published by the store, empty when unknown
	Hash string
}

// HasSize reports whether the store published a size for this file
func (r RemoteFile) HasSize() bool {
	return r.Size >= 0
}

// LedgerEntry is the last known transfer outcome of one file of an item
type LedgerEntry struct {
	Identifier string
	Path       string

	// Size recorded with the outcome, or UnknownSize for seeded entries
	// whose remote size was not published
	Size int64

	// Uploaded is true once the file is known to be present remotely
	Uploaded bool

	// ContentHash caches the local content hash, empty when not computed.
	// HashAlgorithm and HashModTime describe what it was computed from.
	ContentHash   string
	HashAlgorithm string
	HashModTime   time.Time

	UpdatedAt time.Time
}

// Validate checks the entry before it is written to the ledger
func (e LedgerEntry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if e.Size < UnknownSize {
		return fmt.Errorf("%w: %s has negative size %d", ErrInvalidEntry, e.Path, e.Size)
	}
	if e.ContentHash != "" && e.HashAlgorithm == "" {
		return fmt.Errorf("%w: %s has a content hash without an algorithm", ErrInvalidEntry, e.Path)
	}
	return nil
}

// CachedHash returns the stored content hash if it still describes the
// given local file under the given algorithm
func (e LedgerEntry) CachedHash(f LocalFile, algorithm string) (string, bool) {
	if e.ContentHash == "" || e.HashAlgorithm != algorithm {
		return "", false
	}
	if e.Size != f.Size || !e.HashModTime.Equal(f.ModTime) {
		return "", false
	}
	return e.ContentHash, true
}

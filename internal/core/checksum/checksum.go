package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/domain"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	// MD5 is what the Internet Archive and single-part S3 ETags publish
	MD5 Algorithm = "md5"
	// SHA256 algorithm
	SHA256 Algorithm = "sha256"
	// XXHash is a fast non-cryptographic hash, used by the local mirror store
	XXHash Algorithm = "xxhash"
)

// Options configures the checksum calculator
type Options struct {
	// MaxSize: files larger than this will not be checksummed (0 = unlimited)
	MaxSize int64

	// BufferSize: size of buffer for streaming reads
	// Default: 32KB
	BufferSize int
}

// DefaultOptions returns the recommended default options.
// Verification must be able to hash every file, so there is no size limit.
func DefaultOptions() Options {
	return Options{
		MaxSize:    0,
		BufferSize: 32 * 1024,
	}
}

// Calculator computes content checksums
type Calculator interface {
	// Calculate computes checksum from an io.Reader.
	// Returns ctx.Err() if the context is cancelled between chunks.
	Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error)
}

// DefaultCalculator implements Calculator with streaming support
type DefaultCalculator struct {
	opts Options
}

// NewCalculator creates a new calculator with the given options
func NewCalculator(opts Options) *DefaultCalculator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &DefaultCalculator{opts: opts}
}

// NewDefaultCalculator creates a calculator with default options
func NewDefaultCalculator() *DefaultCalculator {
	return NewCalculator(DefaultOptions())
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
}

// Calculate implements the Calculator interface
func (c *DefaultCalculator) Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	var limitedReader io.Reader = reader
	if c.opts.MaxSize > 0 {
		limitedReader = io.LimitReader(reader, c.opts.MaxSize+1)
	}

	buffer := make([]byte, c.opts.BufferSize)
	totalBytes := int64(0)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := limitedReader.Read(buffer)
		if n > 0 {
			totalBytes += int64(n)

			if c.opts.MaxSize > 0 && totalBytes > c.opts.MaxSize {
				return "", fmt.Errorf("file size exceeds maximum (%d bytes)", c.opts.MaxSize)
			}

			if _, hashErr := h.Write(buffer[:n]); hashErr != nil {
				return "", fmt.Errorf("hash write error: %w", hashErr)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// File hashes the file at path on fs. Open and read failures wrap
// domain.ErrUnreadableFile; cancellation is returned unwrapped.
func File(ctx context.Context, calc Calculator, fs afero.Fs, path string, algo Algorithm) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, path, err)
	}
	defer f.Close()

	sum, err := calc.Calculate(ctx, f, algo)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s: %v", domain.ErrUnreadableFile, path, err)
	}
	return sum, nil
}

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case MD5, SHA256, XXHash:
		return true
	default:
		return false
	}
}

// ParseAlgorithm converts a configuration value into an Algorithm
func ParseAlgorithm(s string) (Algorithm, error) {
	algo := Algorithm(s)
	if !IsSupported(algo) {
		return "", fmt.Errorf("unsupported algorithm: %q", s)
	}
	return algo, nil
}

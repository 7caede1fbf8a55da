package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

const tempSuffix = ".bulkupload.tmp"

// Adapter mirrors items into directories below a root: item "foo" lives
// in {root}/foo. It is the store used for offline copies and tests.
type Adapter struct {
	fs   afero.Fs
	root string
	algo checksum.Algorithm
	calc checksum.Calculator
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a local mirror adapter. root is created if missing.
func New(fsys afero.Fs, root string, algo checksum.Algorithm) (*Adapter, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: local root cannot be empty", domain.ErrConfigInvalid)
	}
	if !checksum.IsSupported(algo) {
		return nil, fmt.Errorf("%w: unsupported hash %q", domain.ErrConfigInvalid, algo)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := fsys.Stat(absRoot)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := fsys.MkdirAll(absRoot, 0755); err != nil {
			return nil, fmt.Errorf("failed to create local root: %w", err)
		}
	case err != nil:
		return nil, err
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s", domain.ErrNotADirectory, absRoot)
	}

	return &Adapter{
		fs:   fsys,
		root: absRoot,
		algo: algo,
		calc: checksum.NewDefaultCalculator(),
	}, nil
}

// resolvePath safely resolves an item-relative name below the item
// directory. Names escaping the item are rejected.
func (a *Adapter) resolvePath(identifier, name string) (string, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return "", err
	}
	itemRoot := filepath.Join(a.root, identifier)
	if name == "" {
		return itemRoot, nil
	}

	clean := path.Clean("/" + name)
	if clean == "/" || path.Clean(name) != strings.TrimPrefix(clean, "/") {
		return "", fmt.Errorf("%w: invalid name %q", domain.ErrUploadRejected, name)
	}

	fullPath := filepath.Join(itemRoot, filepath.FromSlash(clean))
	rel, err := filepath.Rel(itemRoot, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q escapes the item", domain.ErrUploadRejected, name)
	}
	return fullPath, nil
}

// List walks the item directory and hashes every file
func (a *Adapter) List(ctx context.Context, identifier string) ([]domain.RemoteFile, error) {
	itemRoot, err := a.resolvePath(identifier, "")
	if err != nil {
		return nil, err
	}

	var files []domain.RemoteFile
	if _, err := a.fs.Stat(itemRoot); errors.Is(err, os.ErrNotExist) {
		return files, nil
	}

	err = afero.Walk(a.fs, itemRoot, func(p string, info fs.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if !info.Mode().IsRegular() || strings.HasSuffix(p, tempSuffix) {
			return nil
		}

		rel, err := filepath.Rel(itemRoot, p)
		if err != nil {
			return err
		}

		sum, err := checksum.File(ctx, a.calc, a.fs, p, a.algo)
		if err != nil {
			return err
		}

		files = append(files, domain.RemoteFile{
			Name: filepath.ToSlash(rel),
			Size: info.Size(),
			Hash: sum,
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return files, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	return files, nil
}

// Upload copies the body into the item through a temp file and rename
func (a *Adapter) Upload(ctx context.Context, req adapter.UploadRequest) (adapter.UploadResult, error) {
	fullPath, err := a.resolvePath(req.Identifier, req.Name)
	if err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	if !req.Overwrite {
		exists, err := afero.Exists(a.fs, fullPath)
		if err != nil {
			return adapter.UploadResult{}, err
		}
		if exists {
			return adapter.UploadResult{Status: adapter.UploadConflict, Detail: "file already exists"}, nil
		}
	}

	if err := a.fs.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	tempPath := fullPath + tempSuffix
	file, err := a.fs.Create(tempPath)
	if err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	n, copyErr := io.Copy(file, &ctxReader{ctx: ctx, r: req.Body})
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil {
		a.fs.Remove(tempPath)
		if copyErr != nil {
			return adapter.UploadResult{}, copyErr
		}
		return adapter.UploadResult{}, closeErr
	}
	if req.Size >= 0 && n != req.Size {
		a.fs.Remove(tempPath)
		return adapter.UploadResult{
			Status: adapter.UploadFailed,
			Detail: fmt.Sprintf("size mismatch: got %d bytes, expected %d", n, req.Size),
		}, nil
	}

	if err := a.fs.Rename(tempPath, fullPath); err != nil {
		a.fs.Remove(tempPath)
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	return adapter.UploadResult{Status: adapter.UploadSucceeded}, nil
}

// HashAlgorithm returns the configured hash
func (a *Adapter) HashAlgorithm() checksum.Algorithm {
	return a.algo
}

// Close releases any resources (no-op for local adapter)
func (a *Adapter) Close() error {
	return nil
}

// Root returns the root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

// ctxReader stops a copy once ctx is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

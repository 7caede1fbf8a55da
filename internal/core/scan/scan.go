package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
)

// SkippedEntry is a directory entry the walk could not read
type SkippedEntry struct {
	Path string
	Err  error
}

// Result holds the regular files found under a root, in lexical order
type Result struct {
	Root       string
	Files      []domain.LocalFile
	Skipped    []SkippedEntry
	TotalBytes int64
}

// Scanner walks a local directory tree
type Scanner struct {
	fs afero.Fs
}

// New creates a scanner over fs
func New(fs afero.Fs) *Scanner {
	return &Scanner{fs: fs}
}

// Validate checks that root exists and is a directory
func Validate(fsys afero.Fs, root string) error {
	info, err := fsys.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrDirectoryNotFound, root)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", domain.ErrNotADirectory, root)
	}
	return nil
}

// Scan walks root and returns every regular file below it. Unreadable
// entries are logged and skipped. On cancellation the files found so far
// are returned together with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	result := &Result{Root: root}
	log := logger.With("component", "scanner", "root", root)

	if _, err := s.fs.Stat(root); errors.Is(err, os.ErrNotExist) {
		return result, nil
	}

	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if path == root {
				return walkErr
			}
			log.Warn("Skipping unreadable entry", "path", path, "error", walkErr)
			result.Skipped = append(result.Skipped, SkippedEntry{Path: path, Err: walkErr})
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			target, err := s.fs.Stat(path)
			if err != nil {
				log.Warn("Skipping broken symlink", "path", path, "error", err)
				result.Skipped = append(result.Skipped, SkippedEntry{Path: path, Err: err})
				return nil
			}
			info = target
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}

		file, err := domain.NewLocalFile(filepath.ToSlash(rel), path, info.Size(), info.ModTime())
		if err != nil {
			log.Warn("Skipping invalid entry", "path", path, "error", err)
			result.Skipped = append(result.Skipped, SkippedEntry{Path: path, Err: err})
			return nil
		}

		result.Files = append(result.Files, file)
		result.TotalBytes += file.Size
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("Scan interrupted", "files", len(result.Files))
			return result, ctx.Err()
		}
		return result, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	log.Debug("Scan finished", "files", len(result.Files), "skipped", len(result.Skipped), "bytes", result.TotalBytes)
	return result, nil
}

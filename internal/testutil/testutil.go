package testutil

import (
	"context"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/core/scan"
	"github.com/Ning0612/bulkupload/internal/domain"
)

// WriteTree creates files below root. Keys are slash separated paths
// relative to root, values are file contents.
func WriteTree(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		full := path.Join(root, name)
		if err := fs.MkdirAll(path.Dir(full), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := afero.WriteFile(fs, full, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}
}

// ScanTree writes files below root and returns the scanned records in
// scan order
func ScanTree(t *testing.T, fs afero.Fs, root string, files map[string]string) []domain.LocalFile {
	t.Helper()

	WriteTree(t, fs, root, files)
	res, err := scan.New(fs).Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("failed to scan test tree: %v", err)
	}
	return res.Files
}

// LocalFile builds a record for a file that does not need to exist
func LocalFile(p string, size int64) domain.LocalFile {
	return domain.LocalFile{
		Path:    p,
		AbsPath: "/src/" + p,
		Size:    size,
		ModTime: time.Unix(1700000000, 0),
	}
}

// Paths returns the sorted relative paths of the given files
func Paths(files []domain.LocalFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		<-ticker.C
	}
}

// AssertEventually asserts that a condition becomes true within timeout
func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...any) {
	t.Helper()

	if !WaitForCondition(timeout, condition) {
		if len(msgAndArgs) > 0 {
			t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs[0])
		} else {
			t.Fatalf("condition not met within %v", timeout)
		}
	}
}

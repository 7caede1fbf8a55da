package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/bulkupload/internal/domain"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

func paths(files []domain.LocalFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestScan_RelativePathsAndSizes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/b.txt":            "bb",
		"/data/a.txt":            "a",
		"/data/sub/c.bin":        "cccc",
		"/data/sub/deeper/d.txt": "",
	})
	require.NoError(t, fs.MkdirAll("/data/empty", 0o755))

	result, err := New(fs).Scan(context.Background(), "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt", "sub/c.bin", "sub/deeper/d.txt"}, paths(result.Files))
	assert.Equal(t, int64(7), result.TotalBytes)
	assert.Empty(t, result.Skipped)

	byPath := map[string]domain.LocalFile{}
	for _, f := range result.Files {
		byPath[f.Path] = f
	}
	assert.Equal(t, int64(4), byPath["sub/c.bin"].Size)
	assert.Equal(t, filepath.Join("/data", "sub", "c.bin"), byPath["sub/c.bin"].AbsPath)
	assert.Equal(t, int64(0), byPath["sub/deeper/d.txt"].Size)
	assert.False(t, byPath["a.txt"].ModTime.IsZero())
}

func TestScan_EmptyAndMissingRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/empty", 0o755))

	result, err := New(fs).Scan(context.Background(), "/empty")
	require.NoError(t, err)
	assert.Empty(t, result.Files)

	result, err = New(fs).Scan(context.Background(), "/does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, result.Files)
}

func TestScan_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/data/a.txt": "a", "/data/b.txt": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := New(fs).Scan(ctx, "/data")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Files)
}

func TestScan_SkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("ok"), 0o644))
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Mkdir(locked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "hidden.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	result, err := New(afero.NewOsFs()).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.txt"}, paths(result.Files))
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, locked, result.Skipped[0].Path)
}

func TestScan_FollowsFileSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "target.bin")
	require.NoError(t, os.WriteFile(target, []byte("12345"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.bin")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "gone"), filepath.Join(root, "broken")))

	result, err := New(afero.NewOsFs()).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "link.bin", result.Files[0].Path)
	assert.Equal(t, int64(5), result.Files[0].Size)
	assert.Len(t, result.Skipped, 1)
}

func TestValidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/data/file.txt": "x"})

	assert.NoError(t, Validate(fs, "/data"))
	assert.ErrorIs(t, Validate(fs, "/missing"), domain.ErrDirectoryNotFound)
	assert.ErrorIs(t, Validate(fs, "/data/file.txt"), domain.ErrNotADirectory)
}

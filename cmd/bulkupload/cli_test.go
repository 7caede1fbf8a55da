package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/config"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/lock"
	"github.com/Ning0612/bulkupload/internal/testutil"
)

const item = "family-photos"

type harness struct {
	cli     *cli
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	config  string
	dataDir string
	mirror  string
	dir     string
}

// newHarness writes a config using the local transport and a tree to upload
func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()

	base := t.TempDir()
	h := &harness{
		config:  filepath.Join(base, "config.yaml"),
		dataDir: filepath.Join(base, "data"),
		mirror:  filepath.Join(base, "mirror"),
		dir:     filepath.Join(base, "photos"),
	}
	require.NoError(t, os.MkdirAll(h.dir, 0755))
	testutil.WriteTree(t, afero.NewOsFs(), h.dir, files)

	yaml := fmt.Sprintf(`data_dir: %s
transport: local
local:
  root: %s
log:
  level: error
`, h.dataDir, h.mirror)
	require.NoError(t, os.WriteFile(h.config, []byte(yaml), 0644))

	h.reset()
	return h
}

// reset gives the harness fresh output buffers and a fresh cli
func (h *harness) reset() {
	h.stdout = &bytes.Buffer{}
	h.stderr = &bytes.Buffer{}
	h.cli = newCLI(&bytes.Buffer{}, h.stdout, h.stderr)
}

func (h *harness) run(args ...string) int {
	return h.runContext(context.Background(), args...)
}

func (h *harness) runContext(ctx context.Context, args ...string) int {
	return h.cli.run(ctx, append([]string{"--config", h.config}, args...))
}

// useStore replaces the configured transport with store
func (h *harness) useStore(store adapter.Adapter) {
	h.cli.newAdapter = func(context.Context, *config.Config) (adapter.Adapter, error) {
		return store, nil
	}
}

type fakePrompter struct {
	identifier string
	dir        string
	err        error

	offered []string
}

func (p *fakePrompter) SelectIdentifier(remembered []string) (string, error) {
	p.offered = remembered
	return p.identifier, p.err
}

func (p *fakePrompter) Directory(def string) (string, error) {
	if p.dir == "" {
		return def, nil
	}
	return p.dir, nil
}

func TestRun_UploadAndResume(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.txt":         "alpha",
		"album/b.jpg":   "bravo",
		"album/c/d.png": "delta",
	})

	code := h.run(item, h.dir)
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Uploaded:  3 files")
	assert.Contains(t, h.stdout.String(), "Verified:  all 3 files match")
	assert.Contains(t, h.stdout.String(), "Status:    success")

	content, err := os.ReadFile(filepath.Join(h.mirror, item, "album", "c", "d.png"))
	require.NoError(t, err)
	assert.Equal(t, "delta", string(content))

	// the directory is remembered, so the identifier alone is enough
	h.reset()
	code = h.run(item)
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Plan:      0 new, 0 changed, 3 up to date")
	assert.Contains(t, h.stdout.String(), "Uploaded:  0 files")
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})

	code := h.run("--dry-run", item, h.dir)
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Plan:      2 new, 0 changed, 0 up to date")
	assert.Contains(t, h.stdout.String(), "a.txt")
	assert.NotContains(t, h.stdout.String(), "Uploaded:")

	_, err := os.Stat(filepath.Join(h.mirror, item, "a.txt"))
	assert.True(t, os.IsNotExist(err), "dry run must not upload")
}

func TestRun_StrictMismatch(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha"})
	store := testutil.NewFakeStore()
	// same size, different bytes
	store.Seed(item, map[string]string{"a.txt": "ALPHA"})
	h.useStore(store)

	code := h.run(item, h.dir)
	assert.Equal(t, exitOK, code, "mismatches only fail the run with --strict")
	assert.Contains(t, h.stdout.String(), "hash     a.txt")
	assert.Contains(t, h.stdout.String(), "Status:    partial")

	h.reset()
	h.useStore(store)
	code = h.run("--strict", item, h.dir)
	assert.Equal(t, exitMismatch, code)
}

func TestRun_ExitCodes(t *testing.T) {
	h := newHarness(t, nil)
	filePath := filepath.Join(h.dir, "..", "file.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"empty directory", []string{item, h.dir}, exitEmpty},
		{"missing directory", []string{item, filepath.Join(h.dir, "nope")}, exitUsage},
		{"not a directory", []string{item, filePath}, exitUsage},
		{"invalid identifier", []string{"has space", h.dir}, exitUsage},
		{"no arguments without a terminal", nil, exitUsage},
		{"unknown identifier without directory", []string{"unknown-item"}, exitUsage},
		{"too many arguments", []string{item, h.dir, "extra"}, exitUsage},
		{"unknown flag", []string{"--bogus"}, exitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.reset()
			assert.Equal(t, tt.want, h.run(tt.args...), h.stderr.String())
		})
	}
}

func TestRun_MissingConfig(t *testing.T) {
	c := newCLI(&bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	code := c.run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), item, t.TempDir()})
	assert.Equal(t, exitUsage, code)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := h.runContext(ctx, item, h.dir)
	assert.Equal(t, exitCancelled, code)
	assert.Contains(t, h.stderr.String(), "run again to resume")
}

func TestRun_Interactive(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha"})

	// first run remembers the directory
	require.Equal(t, exitOK, h.run(item, h.dir), h.stderr.String())

	h.reset()
	prompt := &fakePrompter{identifier: item}
	h.cli.interactive = true
	h.cli.prompt = prompt

	code := h.run()
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Equal(t, []string{item}, prompt.offered)
	assert.Contains(t, h.stdout.String(), "Directory: "+h.dir)
}

func TestRun_InteractiveInvalidChoice(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha"})
	h.cli.interactive = true
	h.cli.prompt = &fakePrompter{err: domain.ErrInvalidChoice}

	assert.Equal(t, exitInvalidChoice, h.run())
}

func TestVerifyCmd(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})
	require.Equal(t, exitOK, h.run("--no-verify", item, h.dir), h.stderr.String())

	h.reset()
	require.Equal(t, exitOK, h.run("verify", item, h.dir), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Verified:  all 2 files match")

	// drift on the remote side
	require.NoError(t, os.WriteFile(filepath.Join(h.mirror, item, "b.txt"), []byte("BRAVO"), 0644))

	h.reset()
	assert.Equal(t, exitMismatch, h.run("verify", item, h.dir))
	assert.Contains(t, h.stdout.String(), "b.txt")
}

func TestLedgerAndHistoryCmds(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})

	require.Equal(t, exitOK, h.run("ledger"))
	assert.Contains(t, h.stdout.String(), "The ledger is empty.")

	h.reset()
	require.Equal(t, exitOK, h.run("history"))
	assert.Contains(t, h.stdout.String(), "No runs recorded.")

	h.reset()
	require.Equal(t, exitOK, h.run(item, h.dir), h.stderr.String())

	h.reset()
	require.Equal(t, exitOK, h.run("ledger", item, "--files"), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "IDENTIFIER")
	assert.Contains(t, out, item)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "md5:")

	h.reset()
	require.Equal(t, exitOK, h.run("history", item), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "success")

	h.reset()
	assert.Equal(t, exitUsage, h.run("history", "--limit", "0"))
}

func TestScriptCmd(t *testing.T) {
	h := newHarness(t, nil)
	h.cli.fs = afero.NewMemMapFs()

	require.Equal(t, exitOK, h.run("script", item, "/data/photos", "-o", "/out/upload.sh"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Wrote /out/upload.sh")

	content, err := afero.ReadFile(h.cli.fs, "/out/upload.sh")
	require.NoError(t, err)
	assert.Contains(t, string(content), "--config '"+h.config+"'")
	assert.Contains(t, string(content), "'"+item+"' '/data/photos'")

	h.reset()
	h.cli.fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(h.cli.fs, "/out/upload.sh", []byte("old"), 0644))
	assert.Equal(t, exitError, h.run("script", item, "/data/photos", "-o", "/out/upload.sh"))

	h.reset()
	assert.Equal(t, exitUsage, h.run("script", item))
}

func TestWatchCmd_RejectsZeroInterval(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha"})
	assert.Equal(t, exitUsage, h.run("watch", item, h.dir, "--interval", "0"))
}

func TestAuthCmd_RequiresClientCredentials(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, exitUsage, h.run("auth"))
	assert.Contains(t, h.stderr.String(), "gdrive.client_id")
}

func TestStopCmd_NoWatcher(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, exitError, h.run("stop", item))
	assert.Contains(t, h.stderr.String(), "no watcher is running")

	h.reset()
	assert.Equal(t, exitUsage, h.run("stop", "bad id"))
}

func TestRun_LockHeld(t *testing.T) {
	h := newHarness(t, map[string]string{"a.txt": "alpha"})

	held, err := lock.New(filepath.Join(h.dataDir, "locks"), item)
	require.NoError(t, err)
	require.NoError(t, held.Acquire())
	defer held.Release()

	// a held lock is a runtime condition, not a usage error
	assert.Equal(t, exitError, h.run(item, h.dir))
	assert.Contains(t, h.stderr.String(), "PID")

	h.reset()
	assert.Equal(t, exitError, h.run("verify", item, h.dir))

	require.NoError(t, held.Release())
	h.reset()
	assert.Equal(t, exitOK, h.run(item, h.dir), h.stderr.String())
}

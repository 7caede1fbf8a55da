package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/core/reconcile"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/progress"
	"github.com/Ning0612/bulkupload/internal/testutil"
)

const item = "item-1"

var fiveFiles = map[string]string{
	"1.txt": "one",
	"2.txt": "two",
	"3.txt": "three",
	"4.txt": "four",
	"5.txt": "five",
}

type fixture struct {
	fs     afero.Fs
	files  []domain.LocalFile
	ledger *testutil.MemLedger
	store  *testutil.FakeStore
}

func newFixture(t *testing.T, tree map[string]string) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	return &fixture{
		fs:     fs,
		files:  testutil.ScanTree(t, fs, "/src", tree),
		ledger: testutil.NewMemLedger(),
		store:  testutil.NewFakeStore(),
	}
}

func (f *fixture) plan(t *testing.T) *domain.Plan {
	t.Helper()
	plan, err := reconcile.New(f.ledger, f.store).Reconcile(context.Background(), item, f.files, reconcile.Options{})
	require.NoError(t, err)
	return plan
}

func (f *fixture) run(t *testing.T, ctx context.Context) (*Summary, error) {
	t.Helper()
	return New(f.fs, f.store, f.ledger, nil).Execute(ctx, item, f.plan(t))
}

func TestExecute_UploadsAndCommitsEachFile(t *testing.T) {
	f := newFixture(t, fiveFiles)

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Attempted)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, int64(19), summary.BytesUploaded)
	assert.Equal(t, []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt"}, f.ledger.Commits)
	assert.Equal(t, f.ledger.Commits, f.store.Uploads)

	for _, file := range f.files {
		e, ok := f.ledger.Entry(item, file.Path)
		require.True(t, ok)
		assert.True(t, e.Uploaded)
		assert.Equal(t, file.Size, e.Size)
	}
}

func TestExecute_SecondRunIsNoop(t *testing.T) {
	f := newFixture(t, fiveFiles)

	_, err := f.run(t, context.Background())
	require.NoError(t, err)

	plan := f.plan(t)
	assert.Empty(t, plan.Transfers())

	summary, err := New(f.fs, f.store, f.ledger, nil).Execute(context.Background(), item, plan)
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
	assert.Equal(t, 5, f.store.UploadCount())
}

func TestExecute_FailureIsolation(t *testing.T) {
	f := newFixture(t, fiveFiles)
	f.store.Outcomes["3.txt"] = adapter.UploadFailed

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"3.txt"}, summary.FailedPaths)

	for _, file := range f.files {
		e, ok := f.ledger.Entry(item, file.Path)
		require.True(t, ok)
		assert.Equal(t, file.Path != "3.txt", e.Uploaded, file.Path)
	}

	delete(f.store.Outcomes, "3.txt")
	plan := f.plan(t)
	transfers := plan.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "3.txt", transfers[0].File.Path)
	assert.Equal(t, domain.ReasonPreviouslyFailed, transfers[0].Reason)
}

func TestExecute_TransportErrorIsFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1", "b": "2"})
	f.store.Errors["a"] = errors.New("connection reset by peer")

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	e, _ := f.ledger.Entry(item, "a")
	assert.False(t, e.Uploaded)
	e, _ = f.ledger.Entry(item, "b")
	assert.True(t, e.Uploaded)
}

func TestExecute_ConflictCountsAsSuccess(t *testing.T) {
	f := newFixture(t, map[string]string{"dup.txt": "x"})
	f.store.Outcomes["dup.txt"] = adapter.UploadConflict

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Conflicts)
	assert.Zero(t, summary.Failed)
	e, ok := f.ledger.Entry(item, "dup.txt")
	require.True(t, ok)
	assert.True(t, e.Uploaded)
}

func TestExecute_CancelMidBatch(t *testing.T) {
	f := newFixture(t, fiveFiles)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan := f.plan(t)
	f.store.OnUpload = func(req adapter.UploadRequest) {
		if req.Name == "2.txt" {
			cancel()
		}
	}

	summary, err := New(f.fs, f.store, f.ledger, nil).Execute(ctx, item, plan)
	assert.ErrorIs(t, err, context.Canceled)

	// the in-flight file is committed as failed, nothing after it starts
	assert.Equal(t, []string{"1.txt", "2.txt"}, f.ledger.Commits)
	assert.Equal(t, []string{"1.txt", "2.txt"}, f.store.Uploads)
	assert.Equal(t, 3, summary.NotStarted)
	e, _ := f.ledger.Entry(item, "2.txt")
	assert.False(t, e.Uploaded)

	f.store.OnUpload = nil
	summary, err = f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.txt", "2.txt", "2.txt", "3.txt", "4.txt", "5.txt"}, f.store.Uploads)
	assert.Equal(t, 4, summary.Succeeded)
}

func TestExecute_CancelBetweenFiles(t *testing.T) {
	f := newFixture(t, fiveFiles)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan := f.plan(t)
	f.ledger.FailUpsert = func(path string) error {
		if path == "2.txt" {
			cancel()
		}
		return nil
	}

	_, err := New(f.fs, f.store, f.ledger, nil).Execute(ctx, item, plan)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"1.txt", "2.txt"}, f.ledger.Commits)
	for _, p := range []string{"1.txt", "2.txt"} {
		e, _ := f.ledger.Entry(item, p)
		assert.True(t, e.Uploaded, p)
	}

	f.ledger.FailUpsert = nil
	resumed := f.plan(t)
	var next []string
	for _, d := range resumed.Transfers() {
		next = append(next, d.File.Path)
	}
	assert.Equal(t, []string{"3.txt", "4.txt", "5.txt"}, next)
}

func TestExecute_LedgerFailureAborts(t *testing.T) {
	f := newFixture(t, fiveFiles)
	plan := f.plan(t)
	f.ledger.FailUpsert = func(path string) error {
		if path == "2.txt" {
			return testutil.ErrInjected
		}
		return nil
	}

	summary, err := New(f.fs, f.store, f.ledger, nil).Execute(context.Background(), item, plan)
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, []string{"1.txt", "2.txt"}, f.store.Uploads)
}

func TestExecute_UnreadableFile(t *testing.T) {
	f := newFixture(t, map[string]string{"gone.txt": "x", "ok.txt": "y"})
	plan := f.plan(t)
	require.NoError(t, f.fs.Remove("/src/gone.txt"))

	summary, err := New(f.fs, f.store, f.ledger, nil).Execute(context.Background(), item, plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"gone.txt"}, summary.FailedPaths)
	assert.Equal(t, []string{"ok.txt"}, f.store.Uploads)
	e, ok := f.ledger.Entry(item, "gone.txt")
	require.True(t, ok)
	assert.False(t, e.Uploaded)
}

func TestExecute_ReuploadOverwrites(t *testing.T) {
	f := newFixture(t, map[string]string{"grown.txt": "now longer"})
	f.ledger.Put(item, domain.LedgerEntry{Path: "grown.txt", Size: 3, Uploaded: true, ContentHash: "old", HashAlgorithm: "md5"})
	f.store.Seed(item, map[string]string{"grown.txt": "old"})

	var overwrite []bool
	f.store.OnUpload = func(req adapter.UploadRequest) {
		overwrite = append(overwrite, req.Overwrite)
	}

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []bool{true}, overwrite)

	e, _ := f.ledger.Entry(item, "grown.txt")
	assert.Equal(t, int64(10), e.Size)
	assert.Empty(t, e.ContentHash, "size change drops the cached hash")
}

func TestExecute_ReportsProgress(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "12345", "b": "678"})
	f.store.Outcomes["b"] = adapter.UploadFailed

	var updates []progress.Update
	reporter := progress.NewCallbackReporter(func(u progress.Update) {
		updates = append(updates, u)
	})

	_, err := New(f.fs, f.store, f.ledger, reporter).Execute(context.Background(), item, f.plan(t))
	require.NoError(t, err)

	var types []progress.UpdateType
	for _, u := range updates {
		if u.Type != progress.UpdateProgress {
			types = append(types, u.Type)
		}
	}
	assert.Equal(t, []progress.UpdateType{
		progress.UpdateStart, progress.UpdateComplete, progress.UpdateOverall,
		progress.UpdateStart, progress.UpdateError, progress.UpdateOverall,
	}, types)

	last := updates[len(updates)-1]
	assert.Equal(t, 2, last.FilesTotal)
	assert.Equal(t, int64(8), last.BytesTotal)
}

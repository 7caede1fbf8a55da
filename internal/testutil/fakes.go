package testutil

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

// MemLedger is an in-memory ledger with the same upsert rules as the
// sqlite one: a row written without a hash keeps the stored hash only
// while the size is unchanged.
type MemLedger struct {
	mu      sync.Mutex
	entries map[string]map[string]domain.LedgerEntry

	// Commits records every upserted path in commit order
	Commits []string

	// FailUpsert, when set, is returned by Upsert for matching paths
	FailUpsert func(path string) error
}

// NewMemLedger creates an empty ledger
func NewMemLedger() *MemLedger {
	return &MemLedger{entries: make(map[string]map[string]domain.LedgerEntry)}
}

// Load returns a copy of one identifier's entries
func (l *MemLedger) Load(ctx context.Context, identifier string) (map[string]domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]domain.LedgerEntry, len(l.entries[identifier]))
	for k, v := range l.entries[identifier] {
		out[k] = v
	}
	return out, nil
}

// Get returns one entry, or nil
func (l *MemLedger) Get(ctx context.Context, identifier, path string) (*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identifier][path]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Upsert writes entries; either all of them are applied or none
func (l *MemLedger) Upsert(ctx context.Context, identifier string, entries ...domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if l.FailUpsert != nil {
			if err := l.FailUpsert(e.Path); err != nil {
				return err
			}
		}
	}

	item, ok := l.entries[identifier]
	if !ok {
		item = make(map[string]domain.LedgerEntry)
		l.entries[identifier] = item
	}
	for _, e := range entries {
		e.Identifier = identifier
		if old, exists := item[e.Path]; exists && e.ContentHash == "" && old.Size == e.Size {
			e.ContentHash = old.ContentHash
			e.HashAlgorithm = old.HashAlgorithm
			e.HashModTime = old.HashModTime
		}
		item[e.Path] = e
		l.Commits = append(l.Commits, e.Path)
	}
	return nil
}

// Put stores entries directly, bypassing commit bookkeeping
func (l *MemLedger) Put(identifier string, entries ...domain.LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.entries[identifier]
	if !ok {
		item = make(map[string]domain.LedgerEntry)
		l.entries[identifier] = item
	}
	for _, e := range entries {
		e.Identifier = identifier
		item[e.Path] = e
	}
}

// Entry returns one entry for assertions
func (l *MemLedger) Entry(identifier, path string) (domain.LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[identifier][path]
	return e, ok
}

// ErrInjected is returned by fakes configured to fail
var ErrInjected = errors.New("injected failure")

// FakeStore is an in-memory remote store. Uploaded bodies are kept and
// hashed with MD5 like the archive does.
type FakeStore struct {
	mu    sync.Mutex
	items map[string]map[string]domain.RemoteFile

	// Outcomes forces the answer for a file name
	Outcomes map[string]adapter.UploadStatus

	// Errors makes Upload return a transport error for a file name
	Errors map[string]error

	// OnUpload runs before each upload is handled
	OnUpload func(req adapter.UploadRequest)

	// ListErr is returned by List when set
	ListErr error

	// Uploads records every upload name in call order
	Uploads []string
	Lists   int
}

var _ adapter.Adapter = (*FakeStore)(nil)

// NewFakeStore creates an empty store
func NewFakeStore() *FakeStore {
	return &FakeStore{
		items:    make(map[string]map[string]domain.RemoteFile),
		Outcomes: make(map[string]adapter.UploadStatus),
		Errors:   make(map[string]error),
	}
}

// Seed places files in an item as if uploaded earlier by another tool
func (s *FakeStore) Seed(identifier string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, content := range files {
		s.store(identifier, name, []byte(content))
	}
}

// SetRemote replaces one remote record verbatim
func (s *FakeStore) SetRemote(identifier string, rf domain.RemoteFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[identifier] == nil {
		s.items[identifier] = make(map[string]domain.RemoteFile)
	}
	s.items[identifier][rf.Name] = rf
}

func (s *FakeStore) store(identifier, name string, content []byte) {
	if s.items[identifier] == nil {
		s.items[identifier] = make(map[string]domain.RemoteFile)
	}
	sum := md5.Sum(content)
	s.items[identifier][name] = domain.RemoteFile{
		Name: name,
		Size: int64(len(content)),
		Hash: hex.EncodeToString(sum[:]),
	}
}

// List returns the item's files sorted by name
func (s *FakeStore) List(ctx context.Context, identifier string) ([]domain.RemoteFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Lists++
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	files := make([]domain.RemoteFile, 0, len(s.items[identifier]))
	for _, f := range s.items[identifier] {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Upload stores the body unless an outcome or error is configured
func (s *FakeStore) Upload(ctx context.Context, req adapter.UploadRequest) (adapter.UploadResult, error) {
	if s.OnUpload != nil {
		s.OnUpload(req)
	}

	s.mu.Lock()
	s.Uploads = append(s.Uploads, req.Name)
	forced, hasOutcome := s.Outcomes[req.Name]
	injected := s.Errors[req.Name]
	_, exists := s.items[req.Identifier][req.Name]
	s.mu.Unlock()

	if injected != nil {
		return adapter.UploadResult{}, injected
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, req.Body); err != nil {
		return adapter.UploadResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return adapter.UploadResult{}, err
	}

	if hasOutcome {
		switch forced {
		case adapter.UploadFailed:
			return adapter.UploadResult{Status: adapter.UploadFailed, StatusCode: 500, Detail: "forced failure"}, nil
		case adapter.UploadConflict:
			return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: 403, Detail: "file already exists"}, nil
		}
	}
	if exists && !req.Overwrite {
		return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: 403, Detail: "file already exists"}, nil
	}

	s.mu.Lock()
	s.store(req.Identifier, req.Name, buf.Bytes())
	s.mu.Unlock()
	return adapter.UploadResult{Status: adapter.UploadSucceeded, StatusCode: 200}, nil
}

// UploadCount returns how many uploads were attempted
func (s *FakeStore) UploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Uploads)
}

// HashAlgorithm returns MD5
func (s *FakeStore) HashAlgorithm() checksum.Algorithm {
	return checksum.MD5
}

// Close is a no-op
func (s *FakeStore) Close() error {
	return nil
}

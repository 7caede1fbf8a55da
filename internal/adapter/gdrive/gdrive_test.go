package gdrive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/domain"
)

// fakeFiles is an in-memory Drive
type fakeFiles struct {
	mu      sync.Mutex
	nextID  int
	entries map[string]*drive.File // by ID
	content map[string][]byte

	pageSize int
	err      error
	lookups  int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		entries:  make(map[string]*drive.File),
		content:  make(map[string][]byte),
		pageSize: 2,
	}
}

func (f *fakeFiles) add(parentID, name, mimeType string, body []byte) string {
	f.nextID++
	id := fmt.Sprintf("id-%d", f.nextID)
	file := &drive.File{Id: id, Name: name, MimeType: mimeType, Parents: []string{parentID}}
	if mimeType != MimeTypeFolder {
		sum := md5.Sum(body)
		file.Size = int64(len(body))
		file.Md5Checksum = hex.EncodeToString(sum[:])
		f.content[id] = body
	}
	f.entries[id] = file
	return id
}

func (f *fakeFiles) sorted(parentID string) []*drive.File {
	var out []*drive.File
	for _, e := range f.entries {
		if e.Parents[0] == parentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *fakeFiles) children(ctx context.Context, parentID, pageToken string) ([]*drive.File, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, "", f.err
	}

	all := f.sorted(parentID)
	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &start)
	}
	end := start + f.pageSize
	if end >= len(all) {
		return all[start:], "", nil
	}
	return all[start:end], fmt.Sprint(end), nil
}

func (f *fakeFiles) find(ctx context.Context, parentID, name string, folder bool) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	for _, e := range f.sorted(parentID) {
		if e.Name == name && (e.MimeType == MimeTypeFolder) == folder {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeFiles) createFolder(ctx context.Context, parentID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(parentID, name, MimeTypeFolder, nil), nil
}

func (f *fakeFiles) create(ctx context.Context, parentID, name string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.add(parentID, name, "application/octet-stream", data)
	return nil
}

func (f *fakeFiles) update(ctx context.Context, fileID string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[fileID]
	sum := md5.Sum(data)
	e.Size = int64(len(data))
	e.Md5Checksum = hex.EncodeToString(sum[:])
	f.content[fileID] = data
	return nil
}

func upload(t *testing.T, a *Adapter, name, body string, overwrite bool) adapter.UploadResult {
	t.Helper()
	res, err := a.Upload(context.Background(), adapter.UploadRequest{
		Identifier: "item",
		Name:       name,
		Body:       strings.NewReader(body),
		Size:       int64(len(body)),
		Overwrite:  overwrite,
	})
	if err != nil {
		t.Fatalf("Upload(%s) failed: %v", name, err)
	}
	return res
}

func TestUploadAndList(t *testing.T) {
	fake := newFakeFiles()
	a := newAdapter(fake, "backups/items")

	for name, body := range map[string]string{
		"a.txt":          "alpha",
		"album/b.jpg":    "bravo",
		"album/c.jpg":    "charlie",
		"album/sub/d.md": "delta",
	} {
		if res := upload(t, a, name, body, false); res.Status != adapter.UploadSucceeded {
			t.Fatalf("Upload(%s) status = %v", name, res.Status)
		}
	}

	// native documents are not content
	albumID, _ := a.cache.get("/backups/items/item/album")
	fake.add(albumID, "notes", "application/vnd.google-apps.document", nil)

	files, err := a.List(context.Background(), "item")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	want := []string{"a.txt", "album/b.jpg", "album/c.jpg", "album/sub/d.md"}
	if len(files) != len(want) {
		t.Fatalf("List returned %d files, want %d: %+v", len(files), len(want), files)
	}
	for i, f := range files {
		if f.Name != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, f.Name, want[i])
		}
	}

	sum := md5.Sum([]byte("delta"))
	if files[3].Hash != hex.EncodeToString(sum[:]) || files[3].Size != 5 {
		t.Errorf("unexpected record %+v", files[3])
	}
}

func TestUpload_ReusesFolders(t *testing.T) {
	fake := newFakeFiles()
	a := newAdapter(fake, "root")

	upload(t, a, "album/one.jpg", "1", false)
	upload(t, a, "album/two.jpg", "2", false)

	folders := 0
	for _, e := range fake.entries {
		if e.MimeType == MimeTypeFolder && e.Name == "album" {
			folders++
		}
	}
	if folders != 1 {
		t.Errorf("expected a single album folder, got %d", folders)
	}

	// a fresh adapter finds the folders instead of creating them again
	b := newAdapter(fake, "root")
	upload(t, b, "album/three.jpg", "3", false)
	total := 0
	for _, e := range fake.entries {
		if e.MimeType == MimeTypeFolder {
			total++
		}
	}
	if total != 3 {
		t.Errorf("expected folders root, item and album, got %d", total)
	}
}

func TestUpload_ConflictAndOverwrite(t *testing.T) {
	fake := newFakeFiles()
	a := newAdapter(fake, "")

	upload(t, a, "a.txt", "alpha", false)

	res := upload(t, a, "a.txt", "alpha-two", false)
	if res.Status != adapter.UploadConflict {
		t.Fatalf("expected conflict, got %v", res.Status)
	}

	res = upload(t, a, "a.txt", "alpha-two", true)
	if res.Status != adapter.UploadSucceeded {
		t.Fatalf("expected success on overwrite, got %v", res.Status)
	}

	files, err := a.List(context.Background(), "item")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 || files[0].Size != int64(len("alpha-two")) {
		t.Errorf("expected the replaced file only, got %+v", files)
	}
}

func TestUpload_RejectsEscapingNames(t *testing.T) {
	a := newAdapter(newFakeFiles(), "root")

	for _, name := range []string{"../outside.txt", "/abs.txt", "", "a/../../b"} {
		res := upload(t, a, name, "x", false)
		if res.Status != adapter.UploadFailed {
			t.Errorf("Upload(%q) status = %v, want failure", name, res.Status)
		}
	}

	res, err := a.Upload(context.Background(), adapter.UploadRequest{Identifier: "bad id", Name: "a", Body: strings.NewReader("")})
	if err != nil || res.Status != adapter.UploadFailed {
		t.Errorf("invalid identifier: got %v, %v", res.Status, err)
	}
}

func TestList_MissingItem(t *testing.T) {
	fake := newFakeFiles()
	a := newAdapter(fake, "root")

	files, err := a.List(context.Background(), "never-uploaded")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected an empty inventory, got %+v", files)
	}
	if len(fake.entries) != 0 {
		t.Error("List must not create folders")
	}
}

func TestList_Errors(t *testing.T) {
	fake := newFakeFiles()
	a := newAdapter(fake, "root")
	upload(t, a, "a.txt", "alpha", false)

	fake.err = &googleapi.Error{Code: 500}
	_, err := a.List(context.Background(), "item")
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Errorf("expected ErrRemoteUnavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake.err = nil
	_, err = a.List(ctx, "item")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	a := newAdapter(newFakeFiles(), "")
	ctx := context.Background()

	tests := []struct {
		name       string
		err        error
		wantStatus adapter.UploadStatus
		wantErr    error
	}{
		{"success", nil, adapter.UploadSucceeded, nil},
		{"conflict", &googleapi.Error{Code: 409}, adapter.UploadConflict, nil},
		{"forbidden", &googleapi.Error{Code: 403, Message: "insufficient permissions"}, adapter.UploadFailed, nil},
		{"rate limited", &googleapi.Error{Code: 429}, 0, domain.ErrRemoteUnavailable},
		{"server error", &googleapi.Error{Code: 503}, 0, domain.ErrRemoteUnavailable},
		{"network", io.ErrUnexpectedEOF, 0, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.classify(ctx, tt.err)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("classify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("classify() unexpected error: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("classify() status = %v, want %v", res.Status, tt.wantStatus)
			}
		})
	}

	res, _ := a.classify(ctx, &googleapi.Error{Code: 403, Message: "insufficient permissions"})
	if !errors.Is(res.Err(), domain.ErrUploadRejected) || !strings.Contains(res.Detail, "insufficient") {
		t.Errorf("unexpected rejection %+v", res)
	}
}

func TestNormalizeRoot(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"/", ""},
		{"folder", "/folder"},
		{"/folder", "/folder"},
		{"/folder/", "/folder"},
		{" a//b/ ", "/a/b"},
	}

	for _, tt := range tests {
		if got := normalizeRoot(tt.input); got != tt.expected {
			t.Errorf("normalizeRoot(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestEscapeQueryString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"normal", "normal"},
		{"file'name", `file\'name`},
		{`back\slash`, `back\\slash`},
		{"file' or '1'='1", `file\' or \'1\'=\'1`},
	}

	for _, tt := range tests {
		if got := escapeQueryString(tt.input); got != tt.expected {
			t.Errorf("escapeQueryString(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIDCache_Concurrency(t *testing.T) {
	cache := newIDCache()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p := strings.Repeat("x", idx%10)
			cache.set(p, "id")
			cache.get(p)
		}(i)
	}
	wg.Wait()

	if id, ok := cache.get("xxx"); !ok || id != "id" {
		t.Errorf("cache.get = %q, %v", id, ok)
	}
}

func TestAuthenticator_TokenStorage(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "nested", "token.json")

	if _, err := NewAuthenticator("", "secret", tokenPath); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid without client id, got %v", err)
	}

	auth, err := NewAuthenticator("client", "secret", tokenPath)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}

	if _, err := auth.TokenSource(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken before authorization, got %v", err)
	}

	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	if err := auth.saveToken(tok); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}

	info, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatalf("token file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	src, err := auth.TokenSource(context.Background())
	if err != nil {
		t.Fatalf("TokenSource failed: %v", err)
	}
	got, err := src.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got.AccessToken != "access" || !got.Expiry.Equal(tok.Expiry) {
		t.Errorf("unexpected token %+v", got)
	}
}

func TestAuthenticator_ExpiredWithoutRefresh(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token.json")
	auth, err := NewAuthenticator("client", "secret", tokenPath)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	if err := auth.saveToken(&oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}

	if _, err := auth.TokenSource(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestAuthenticate_NoCode(t *testing.T) {
	auth, err := NewAuthenticator("client", "secret", filepath.Join(t.TempDir(), "token.json"))
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}

	var out bytes.Buffer
	err = auth.Authenticate(context.Background(), strings.NewReader("\n"), &out)
	if !errors.Is(err, domain.ErrInvalidChoice) {
		t.Errorf("expected ErrInvalidChoice, got %v", err)
	}
	if !strings.Contains(out.String(), "accounts.google.com") {
		t.Errorf("expected the consent URL in the output, got %q", out.String())
	}
}

// Package gdrive stores items as Google Drive folders. Item "foo" is the
// folder {root}/foo and files keep their relative paths below it as
// nested folders.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

const (
	// MimeTypeFolder is the MIME type for Google Drive folders
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// PageSize is the number of files to fetch per request
	PageSize = 100

	// native Google documents have no byte content to compare
	nativePrefix = "application/vnd.google-apps."
	rootID       = "root"
)

// errNotFound is returned by folder lookups that found nothing
var errNotFound = errors.New("not found in drive")

// Config configures the Google Drive transport
type Config struct {
	ClientID     string
	ClientSecret string
	TokenPath    string

	// Root is the folder path holding the items, e.g. "backups/items"
	Root string
}

// Adapter implements adapter.Adapter over the Drive v3 API
type Adapter struct {
	files files
	root  string
	cache *idCache
}

var _ adapter.Adapter = (*Adapter)(nil)

// idCache caches folder path to ID lookups
type idCache struct {
	mu    sync.RWMutex
	paths map[string]string
}

func newIDCache() *idCache {
	return &idCache{paths: make(map[string]string)}
}

func (c *idCache) get(p string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.paths[p]
	return id, ok
}

func (c *idCache) set(p, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[p] = id
}

// New creates a Drive adapter from the stored OAuth token
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	auth, err := NewAuthenticator(cfg.ClientID, cfg.ClientSecret, cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	src, err := auth.TokenSource(ctx)
	if err != nil {
		return nil, err
	}

	service, err := drive.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return NewWithService(service, cfg.Root), nil
}

// NewWithService wraps an existing Drive service
func NewWithService(service *drive.Service, root string) *Adapter {
	return newAdapter(&driveFiles{service: service}, root)
}

func newAdapter(f files, root string) *Adapter {
	return &Adapter{
		files: f,
		root:  normalizeRoot(root),
		cache: newIDCache(),
	}
}

// normalizeRoot returns root with a leading slash and no trailing slash;
// the Drive root itself is ""
func normalizeRoot(root string) string {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		return ""
	}
	return "/" + path.Clean(root)
}

func (a *Adapter) itemPath(identifier string) string {
	return a.root + "/" + identifier
}

// List walks the item folder. A missing folder is an empty item.
func (a *Adapter) List(ctx context.Context, identifier string) ([]domain.RemoteFile, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}

	itemID, err := a.folderID(ctx, a.itemPath(identifier), false)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, a.listError(ctx, err)
	}

	type folder struct{ id, prefix string }
	var result []domain.RemoteFile
	queue := []folder{{id: itemID}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		pageToken := ""
		for {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			children, next, err := a.files.children(ctx, current.id, pageToken)
			if err != nil {
				return result, a.listError(ctx, err)
			}

			for _, f := range children {
				name := path.Join(current.prefix, f.Name)
				switch {
				case f.MimeType == MimeTypeFolder:
					a.cache.set(a.itemPath(identifier)+"/"+name, f.Id)
					queue = append(queue, folder{id: f.Id, prefix: name})
				case strings.HasPrefix(f.MimeType, nativePrefix):
				default:
					result = append(result, domain.RemoteFile{
						Name: name,
						Size: f.Size,
						Hash: strings.ToLower(f.Md5Checksum),
					})
				}
			}

			if next == "" {
				break
			}
			pageToken = next
		}
	}
	return result, nil
}

func (a *Adapter) listError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
}

// Upload creates the file below the item folder, creating folders on the
// way. An existing file is replaced only when Overwrite is set.
func (a *Adapter) Upload(ctx context.Context, req adapter.UploadRequest) (adapter.UploadResult, error) {
	if err := domain.ValidateIdentifier(req.Identifier); err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}
	name, err := cleanName(req.Name)
	if err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	dir, base := path.Split(name)
	parentID, err := a.folderID(ctx, strings.TrimSuffix(a.itemPath(req.Identifier)+"/"+dir, "/"), true)
	if err != nil {
		return a.classify(ctx, err)
	}

	existing, err := a.files.find(ctx, parentID, base, false)
	switch {
	case err != nil:
		return a.classify(ctx, err)
	case existing != nil && !req.Overwrite:
		return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: http.StatusConflict, Detail: "file already exists"}, nil
	case existing != nil:
		err = a.files.update(ctx, existing.Id, req.Body)
	default:
		err = a.files.create(ctx, parentID, base, req.Body)
	}
	return a.classify(ctx, err)
}

// cleanName rejects names that would leave the item folder
func cleanName(name string) (string, error) {
	clean := path.Clean(name)
	if name == "" || path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: invalid name %q", domain.ErrUploadRejected, name)
	}
	return clean, nil
}

// classify maps a Drive error onto an upload status. Rate limiting and
// server errors are transport failures; other API errors are rejections.
func (a *Adapter) classify(ctx context.Context, err error) (adapter.UploadResult, error) {
	if err == nil {
		return adapter.UploadResult{Status: adapter.UploadSucceeded, StatusCode: http.StatusOK}, nil
	}
	if ctx.Err() != nil {
		return adapter.UploadResult{}, ctx.Err()
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return adapter.UploadResult{}, err
	}
	switch {
	case apiErr.Code == http.StatusConflict:
		return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: apiErr.Code, Detail: "file already exists"}, nil
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
		return adapter.UploadResult{}, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	default:
		detail := apiErr.Message
		if detail == "" {
			detail = http.StatusText(apiErr.Code)
		}
		return adapter.UploadResult{Status: adapter.UploadFailed, StatusCode: apiErr.Code, Detail: detail}, nil
	}
}

// folderID resolves a folder path from the Drive root, creating missing
// folders when create is set
func (a *Adapter) folderID(ctx context.Context, fullPath string, create bool) (string, error) {
	if fullPath == "" {
		return rootID, nil
	}
	if id, ok := a.cache.get(fullPath); ok {
		return id, nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := rootID

	for i, part := range parts {
		partial := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := a.cache.get(partial); ok {
			currentID = id
			continue
		}

		found, err := a.files.find(ctx, currentID, part, true)
		if err != nil {
			return "", err
		}
		switch {
		case found != nil:
			currentID = found.Id
		case !create:
			return "", errNotFound
		default:
			if currentID, err = a.files.createFolder(ctx, currentID, part); err != nil {
				return "", err
			}
		}
		a.cache.set(partial, currentID)
	}
	return currentID, nil
}

// HashAlgorithm returns MD5, the checksum Drive publishes for binary files
func (a *Adapter) HashAlgorithm() checksum.Algorithm {
	return checksum.MD5
}

// Close is a no-op
func (a *Adapter) Close() error {
	return nil
}

// files is the part of the Drive files API the adapter uses
type files interface {
	// children returns one page of a folder's entries
	children(ctx context.Context, parentID, pageToken string) ([]*drive.File, string, error)
	// find returns the named entry of a folder, or nil
	find(ctx context.Context, parentID, name string, folder bool) (*drive.File, error)
	createFolder(ctx context.Context, parentID, name string) (string, error)
	create(ctx context.Context, parentID, name string, body io.Reader) error
	update(ctx context.Context, fileID string, body io.Reader) error
}

type driveFiles struct {
	service *drive.Service
}

// escapeQueryString escapes special characters in Drive query strings
func escapeQueryString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

func (d *driveFiles) children(ctx context.Context, parentID, pageToken string) ([]*drive.File, string, error) {
	call := d.service.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryString(parentID))).
		PageSize(PageSize).
		Fields("nextPageToken, files(id, name, mimeType, size, md5Checksum)")
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Context(ctx).Do()
	if err != nil {
		return nil, "", err
	}
	return list.Files, list.NextPageToken, nil
}

func (d *driveFiles) find(ctx context.Context, parentID, name string, folder bool) (*drive.File, error) {
	kind := "!="
	if folder {
		kind = "="
	}
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType %s '%s' and trashed = false",
		escapeQueryString(name), escapeQueryString(parentID), kind, MimeTypeFolder)

	list, err := d.service.Files.List().
		Q(q).
		PageSize(1).
		Fields("files(id, name, mimeType, size, md5Checksum)").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

func (d *driveFiles) createFolder(ctx context.Context, parentID, name string) (string, error) {
	created, err := d.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: MimeTypeFolder,
		Parents:  []string{parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (d *driveFiles) create(ctx context.Context, parentID, name string, body io.Reader) error {
	_, err := d.service.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{parentID},
	}).Media(body, googleapi.ContentType("application/octet-stream")).
		Fields("id").Context(ctx).Do()
	return err
}

func (d *driveFiles) update(ctx context.Context, fileID string, body io.Reader) error {
	_, err := d.service.Files.Update(fileID, &drive.File{}).
		Media(body, googleapi.ContentType("application/octet-stream")).
		Fields("id").Context(ctx).Do()
	return err
}

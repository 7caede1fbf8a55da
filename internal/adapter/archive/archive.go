// Package archive talks to an Internet Archive style item store: a
// metadata endpoint that lists an item's files and an S3-like endpoint
// that accepts one PUT per file.
package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
)

const (
	DefaultMetadataURL = "https://archive.org"
	DefaultUploadURL   = "https://s3.us.archive.org"

	headerSizeHint    = "x-archive-size-hint"
	headerQueueDerive = "x-archive-queue-derive"
	headerAutoBucket  = "x-amz-auto-make-bucket"

	// substring of the 403 body returned when the file is already stored
	alreadyExistsMarker = "file already exists"

	maxDetailLength = 512
)

// Config configures the archive transport
type Config struct {
	MetadataURL string
	UploadURL   string
	AccessKey   string
	SecretKey   string

	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	Timeout      time.Duration

	// QueueDerive leaves derivation of uploaded files to the archive.
	// When false every PUT carries x-archive-queue-derive: 0.
	QueueDerive bool
}

// Adapter implements adapter.Adapter over the archive HTTP APIs
type Adapter struct {
	cfg    Config
	client *resty.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an archive adapter. Credentials are required for uploads.
func New(cfg Config) (*Adapter, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: archive access_key and secret_key are required", domain.ErrConfigInvalid)
	}
	if cfg.MetadataURL == "" {
		cfg.MetadataURL = DefaultMetadataURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	cfg.MetadataURL = strings.TrimRight(cfg.MetadataURL, "/")
	cfg.UploadURL = strings.TrimRight(cfg.UploadURL, "/")

	client := resty.New().
		SetRetryCount(cfg.Retries).
		SetHeader("User-Agent", "bulkupload").
		AddContentTypeDecoder("json", jsonDecoder)

	if cfg.RetryWait > 0 {
		client.SetRetryWaitTime(cfg.RetryWait)
	}
	if cfg.RetryMaxWait > 0 {
		client.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	// file bodies are plain readers, so the raw request would otherwise
	// go out chunked
	client.SetRequestMiddlewares(
		resty.PrepareRequestMiddleware,
		contentLengthMiddleware,
	)

	return &Adapter{cfg: cfg, client: client}, nil
}

func contentLengthMiddleware(_ *resty.Client, r *resty.Request) error {
	if r.RawRequest == nil || r.Method != http.MethodPut {
		return nil
	}
	hint := r.Header.Get(headerSizeHint)
	if hint == "" {
		return nil
	}
	size, err := strconv.ParseInt(hint, 10, 64)
	if err != nil || size < 0 {
		return nil
	}
	r.RawRequest.ContentLength = size
	if size == 0 {
		r.RawRequest.Body = http.NoBody
	}
	return nil
}

type metadataFile struct {
	Name string `json:"name"`
	Size string `json:"size"`
	MD5  string `json:"md5"`
}

type metadataResponse struct {
	Files []metadataFile `json:"files"`
}

// List fetches the item's metadata record. A missing item answers with
// an empty document, which yields an empty inventory.
func (a *Adapter) List(ctx context.Context, identifier string) ([]domain.RemoteFile, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}

	var meta metadataResponse
	res, err := a.client.R().
		SetContext(ctx).
		SetForceResponseContentType("application/json").
		SetResult(&meta).
		Get(a.cfg.MetadataURL + "/metadata/" + url.PathEscape(identifier))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: metadata request returned %d", domain.ErrRemoteUnavailable, res.StatusCode())
	}

	log := logger.With("identifier", identifier)
	files := make([]domain.RemoteFile, 0, len(meta.Files))
	for _, f := range meta.Files {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		if f.Name == "" {
			continue
		}

		size := domain.UnknownSize
		if f.Size != "" {
			n, err := strconv.ParseInt(f.Size, 10, 64)
			if err != nil || n < 0 {
				log.Warn("Ignoring unparseable remote size", "file", f.Name, "size", f.Size)
			} else {
				size = n
			}
		}

		files = append(files, domain.RemoteFile{
			Name: f.Name,
			Size: size,
			Hash: strings.ToLower(f.MD5),
		})
	}
	return files, nil
}

// Upload PUTs one file into the item. The bucket is created on first use.
func (a *Adapter) Upload(ctx context.Context, req adapter.UploadRequest) (adapter.UploadResult, error) {
	if err := domain.ValidateIdentifier(req.Identifier); err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	r := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", fmt.Sprintf("LOW %s:%s", a.cfg.AccessKey, a.cfg.SecretKey)).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader(headerAutoBucket, "1").
		SetResponseBodyUnlimitedReads(true).
		SetBody(req.Body)

	if req.Size >= 0 {
		r.SetHeader(headerSizeHint, strconv.FormatInt(req.Size, 10))
	}
	if !a.cfg.QueueDerive {
		r.SetHeader(headerQueueDerive, "0")
	}

	res, err := r.Put(a.uploadURL(req.Identifier, req.Name))
	if err != nil {
		if ctx.Err() != nil {
			return adapter.UploadResult{}, ctx.Err()
		}
		return adapter.UploadResult{}, fmt.Errorf("upload %s: %w", req.Name, err)
	}

	return classify(res.StatusCode(), res.String()), nil
}

func classify(status int, body string) adapter.UploadResult {
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return adapter.UploadResult{Status: adapter.UploadSucceeded, StatusCode: status}
	case status == http.StatusForbidden && strings.Contains(strings.ToLower(body), alreadyExistsMarker):
		return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: status, Detail: alreadyExistsMarker}
	default:
		return adapter.UploadResult{Status: adapter.UploadFailed, StatusCode: status, Detail: truncate(body)}
	}
}

func (a *Adapter) uploadURL(identifier, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return a.cfg.UploadURL + "/" + url.PathEscape(identifier) + "/" + strings.Join(segments, "/")
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDetailLength {
		return s[:maxDetailLength] + "..."
	}
	return s
}

// HashAlgorithm returns MD5, the digest published in item metadata
func (a *Adapter) HashAlgorithm() checksum.Algorithm {
	return checksum.MD5
}

// Close shuts the HTTP client down
func (a *Adapter) Close() error {
	return a.client.Close()
}

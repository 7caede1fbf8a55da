// Package s3 stores items as buckets in an S3 compatible object store.
// Item "foo" is bucket "foo"; files become objects below an optional
// key prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

const DefaultRegion = "us-east-1"

// Config configures the S3 transport
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string

	// Prefix is prepended to every object key, e.g. "backups/"
	Prefix    string
	PathStyle bool
}

// Adapter implements adapter.Adapter over the S3 API
type Adapter struct {
	client *s3.Client
	prefix string
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an S3 adapter. Without explicit keys the default AWS
// credential chain is used.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("%w: s3 access_key and secret_key must be set together", domain.ErrConfigInvalid)
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %v", domain.ErrConfigInvalid, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *s3.Client, prefix string) *Adapter {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Adapter{client: client, prefix: prefix}
}

func (a *Adapter) key(name string) string {
	return a.prefix + path.Clean(name)
}

// List pages through the bucket. A missing bucket is an empty item.
func (a *Adapter) List(ctx context.Context, identifier string) ([]domain.RemoteFile, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(identifier)}
	if a.prefix != "" {
		input.Prefix = aws.String(a.prefix)
	}

	var files []domain.RemoteFile
	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return files, ctx.Err()
			}
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket" {
				return files, nil
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), a.prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			size := domain.UnknownSize
			if obj.Size != nil {
				size = *obj.Size
			}
			files = append(files, domain.RemoteFile{
				Name: name,
				Size: size,
				Hash: etagDigest(aws.ToString(obj.ETag)),
			})
		}
	}
	return files, nil
}

// etagDigest returns the MD5 carried by a single-part ETag. Multipart
// ETags ("<hash>-<parts>") are not content digests.
func etagDigest(etag string) string {
	etag = strings.Trim(etag, `"`)
	if strings.Contains(etag, "-") {
		return ""
	}
	return strings.ToLower(etag)
}

// Upload puts one object. Unless Overwrite is set the write is
// conditional on the key not existing yet.
func (a *Adapter) Upload(ctx context.Context, req adapter.UploadRequest) (adapter.UploadResult, error) {
	if err := domain.ValidateIdentifier(req.Identifier); err != nil {
		return adapter.UploadResult{Status: adapter.UploadFailed, Detail: err.Error()}, nil
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(req.Identifier),
		Key:         aws.String(a.key(req.Name)),
		Body:        req.Body,
		ContentType: aws.String("application/octet-stream"),
	}
	if req.Size >= 0 {
		input.ContentLength = aws.Int64(req.Size)
	}
	if !req.Overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	_, err := a.client.PutObject(ctx, input)
	if err != nil && ctx.Err() != nil {
		return adapter.UploadResult{}, ctx.Err()
	}
	return classify(err)
}

// classify maps a PutObject error onto an upload status. Errors without
// an HTTP response are transport failures and are returned as errors.
func classify(err error) (adapter.UploadResult, error) {
	if err == nil {
		return adapter.UploadResult{Status: adapter.UploadSucceeded, StatusCode: http.StatusOK}, nil
	}

	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "PreconditionFailed" || status == http.StatusPreconditionFailed {
			return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: status, Detail: "file already exists"}, nil
		}
		return adapter.UploadResult{
			Status:     adapter.UploadFailed,
			StatusCode: status,
			Detail:     apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(),
		}, nil
	}
	if status != 0 {
		if status == http.StatusPreconditionFailed {
			return adapter.UploadResult{Status: adapter.UploadConflict, StatusCode: status, Detail: "file already exists"}, nil
		}
		return adapter.UploadResult{Status: adapter.UploadFailed, StatusCode: status, Detail: err.Error()}, nil
	}
	return adapter.UploadResult{}, err
}

// HashAlgorithm returns MD5, the digest in single-part ETags
func (a *Adapter) HashAlgorithm() checksum.Algorithm {
	return checksum.MD5
}

// Close is a no-op; the SDK client holds no closable resources
func (a *Adapter) Close() error {
	return nil
}

package service

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/adapter/archive"
	"github.com/Ning0612/bulkupload/internal/adapter/gdrive"
	"github.com/Ning0612/bulkupload/internal/adapter/local"
	"github.com/Ning0612/bulkupload/internal/adapter/s3"
	"github.com/Ning0612/bulkupload/internal/config"
	"github.com/Ning0612/bulkupload/internal/core/checksum"
	"github.com/Ning0612/bulkupload/internal/domain"
)

// NewAdapter creates the remote store selected by cfg.Transport
func NewAdapter(ctx context.Context, cfg *config.Config) (adapter.Adapter, error) {
	switch cfg.Transport {
	case config.TransportArchive:
		a, err := archive.New(archive.Config{
			MetadataURL:  cfg.Archive.MetadataURL,
			UploadURL:    cfg.Archive.UploadURL,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			Retries:      cfg.Archive.Retries,
			RetryWait:    cfg.Archive.RetryWait,
			RetryMaxWait: cfg.Archive.RetryMaxWait,
			Timeout:      cfg.Archive.Timeout,
			QueueDerive:  cfg.Archive.QueueDerive,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archive adapter: %w", err)
		}
		return a, nil

	case config.TransportS3:
		a, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 adapter: %w", err)
		}
		return a, nil

	case config.TransportGDrive:
		a, err := gdrive.New(ctx, gdrive.Config{
			ClientID:     cfg.GDrive.ClientID,
			ClientSecret: cfg.GDrive.ClientSecret,
			TokenPath:    cfg.TokenPath(),
			Root:         cfg.GDrive.Root,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gdrive adapter: %w", err)
		}
		return a, nil

	case config.TransportLocal:
		a, err := local.New(afero.NewOsFs(), cfg.Local.Root, checksum.Algorithm(cfg.Local.Hash))
		if err != nil {
			return nil, fmt.Errorf("failed to create local adapter: %w", err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrTransportNotFound, cfg.Transport)
	}
}

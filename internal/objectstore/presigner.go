package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Expiry    time.Duration
}

// Presigner hands out time-limited upload and download URLs.
type Presigner struct {
	client *minio.Client
	expiry time.Duration
	logger *slog.Logger
}

func NewPresigner(cfg Config, logger *slog.Logger) (*Presigner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = time.Hour
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &Presigner{client: client, expiry: cfg.Expiry, logger: logger}, nil
}

// EnsureBucket creates bucket when missing.
func (p *Presigner) EnsureBucket(ctx context.Context, bucket string) error {
	ok, err := p.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if ok {
		return nil
	}
	if err := p.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	p.logger.Info("objectstore.bucket.created", "bucket", bucket)
	return nil
}

func (p *Presigner) PresignUpload(ctx context.Context, bucket, key string) (string, error) {
	u, err := p.client.PresignedPutObject(ctx, bucket, key, p.expiry)
	if err != nil {
		return "", fmt.Errorf("presign put %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// PresignDownload signs a GET that makes the store answer with contentType.
func (p *Presigner) PresignDownload(ctx context.Context, bucket, key, contentType string) (string, error) {
	params := url.Values{}
	if contentType != "" {
		params.Set("response-content-type", contentType)
	}
	u, err := p.client.PresignedGetObject(ctx, bucket, key, p.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

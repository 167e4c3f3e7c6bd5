package urlsource

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/galleryio/go-photoaccess/urlcache"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioParams ...
type MinioParams struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	// Region avoids a bucket location lookup before signing.
	Region    string
	Bucket    string
	KeyPrefix string
	Expiry    time.Duration
}

// MinioSource signs GET URLs for objects of a MinIO bucket.
type MinioSource struct {
	client *minio.Client
	params MinioParams
	logger log.Logger
}

// NewMinioSource ...
func NewMinioSource(params MinioParams, logger log.Logger) (*MinioSource, error) {
	if params.Endpoint == "" {
		return nil, fmt.Errorf("endpoint must not be empty")
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	expiry, err := validateExpiry(params.Expiry)
	if err != nil {
		return nil, err
	}
	params.Expiry = expiry
	if params.Region == "" {
		params.Region = "us-east-1"
	}

	client, err := minio.New(params.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params.AccessKeyID, params.SecretAccessKey, ""),
		Secure: params.UseSSL,
		Region: params.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioSource{client: client, params: params, logger: logger}, nil
}

// FetchURL ...
func (m *MinioSource) FetchURL(ctx context.Context, key urlcache.Key) (urlcache.SignedURL, error) {
	objectKey := objectKey(m.params.KeyPrefix, key)

	presignedURL, err := m.client.PresignedGetObject(ctx, m.params.Bucket, objectKey, m.params.Expiry, nil)
	if err != nil {
		return urlcache.SignedURL{}, fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	m.logger.Debugf("Signed %s for %s", objectKey, m.params.Expiry)

	return urlcache.SignedURL{URL: presignedURL.String(), TTL: m.params.Expiry}, nil
}

package urlsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/urlcache"
)

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint, for S3 compatible stores.
	Endpoint  string
	KeyPrefix string
	Expiry    time.Duration
	// VerifyExists checks the object with a HEAD request before signing.
	VerifyExists bool
}

// S3Source signs GET URLs for objects of an S3 bucket. Objects are stored under
// KeyPrefix/collection/resource.
type S3Source struct {
	client    *s3.Client
	presigner *s3.PresignClient
	params    S3Params
	logger    log.Logger
}

// NewS3Source ...
func NewS3Source(ctx context.Context, params S3Params, logger log.Logger) (*S3Source, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	expiry, err := validateExpiry(params.Expiry)
	if err != nil {
		return nil, err
	}
	params.Expiry = expiry

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Source{
		client:    client,
		presigner: s3.NewPresignClient(client),
		params:    params,
		logger:    logger,
	}, nil
}

// FetchURL ...
func (s *S3Source) FetchURL(ctx context.Context, key urlcache.Key) (urlcache.SignedURL, error) {
	objectKey := objectKey(s.params.KeyPrefix, key)

	if s.params.VerifyExists {
		if err := s.headObject(ctx, objectKey); err != nil {
			return urlcache.SignedURL{}, err
		}
	}

	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.params.Bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(s.params.Expiry))
	if err != nil {
		return urlcache.SignedURL{}, fmt.Errorf("presign get object: %w", err)
	}

	return urlcache.SignedURL{URL: request.URL, TTL: s.params.Expiry}, nil
}

func (s *S3Source) headObject(ctx context.Context, objectKey string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.params.Bucket),
		Key:    aws.String(objectKey),
	})
	if err == nil {
		return nil
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.NotFound:
			s.logger.Debugf("key %s not found in bucket: %s", objectKey, err)
			return fmt.Errorf("%w: object %s", network.ErrNotFound, objectKey)
		}
	}
	return fmt.Errorf("head object %s: %w", objectKey, err)
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

// Package config loads the photoaccess configuration from PHOTOACCESS_ prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/storage"
	"github.com/galleryio/go-photoaccess/upload"
	"github.com/galleryio/go-photoaccess/urlcache"
	"github.com/galleryio/go-photoaccess/urlsource"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable read by Load.
const Prefix = "PHOTOACCESS"

// URL sources
const (
	SourceAPI   = "api"
	SourceS3    = "s3"
	SourceMinio = "minio"
)

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// ByteSize is a size given in human readable form, like 50MB. Units are binary.
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}
	*b = ByteSize(size)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Config ...
type Config struct {
	Verbose   bool   `envconfig:"VERBOSE" default:"false"`
	URLSource string `envconfig:"URL_SOURCE" default:"api"`

	API     APIConfig     `envconfig:"API"`
	Upload  UploadConfig  `envconfig:"UPLOAD"`
	Storage StorageConfig `envconfig:"STORAGE"`
	Cache   CacheConfig   `envconfig:"CACHE"`
	S3      S3Config      `envconfig:"S3"`
	Minio   MinioConfig   `envconfig:"MINIO"`
}

// APIConfig ...
type APIConfig struct {
	BaseURL     string        `envconfig:"URL" required:"true"`
	AccessToken Secret        `envconfig:"TOKEN" required:"true"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`
	RetryMax    int           `envconfig:"RETRY_MAX" default:"3"`
}

// UploadConfig ...
type UploadConfig struct {
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"50"`
	Concurrency    int           `envconfig:"CONCURRENCY" default:"3"`
	MaxFileSize    ByteSize      `envconfig:"MAX_FILE_SIZE" default:"50MB"`
	AllowedTypes   []string      `envconfig:"ALLOWED_TYPES" default:"image/*"`
	Pacing         time.Duration `envconfig:"PACING" default:"100ms"`
	ConfirmTimeout time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"30s"`
}

// StorageConfig ...
type StorageConfig struct {
	MaxAttempts   int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BackoffBase   time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	BackoffMax    time.Duration `envconfig:"BACKOFF_MAX" default:"10s"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"10m"`
	HungThreshold time.Duration `envconfig:"HUNG_THRESHOLD" default:"60s"`
}

// CacheConfig ...
type CacheConfig struct {
	SafetyBuffer  time.Duration `envconfig:"SAFETY_BUFFER" default:"5m"`
	BatchTTL      time.Duration `envconfig:"BATCH_TTL" default:"5m"`
	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
}

// S3Config ...
type S3Config struct {
	Region          string        `envconfig:"REGION"`
	Bucket          string        `envconfig:"BUCKET"`
	AccessKeyID     string        `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey Secret        `envconfig:"SECRET_ACCESS_KEY"`
	Endpoint        string        `envconfig:"ENDPOINT"`
	KeyPrefix       string        `envconfig:"KEY_PREFIX"`
	Expiry          time.Duration `envconfig:"EXPIRY" default:"15m"`
	VerifyExists    bool          `envconfig:"VERIFY_EXISTS" default:"false"`
}

// MinioConfig ...
type MinioConfig struct {
	Endpoint  string        `envconfig:"ENDPOINT"`
	AccessKey string        `envconfig:"ACCESS_KEY"`
	SecretKey Secret        `envconfig:"SECRET_KEY"`
	UseSSL    bool          `envconfig:"USE_SSL" default:"false"`
	Region    string        `envconfig:"REGION" default:"us-east-1"`
	Bucket    string        `envconfig:"BUCKET"`
	KeyPrefix string        `envconfig:"KEY_PREFIX"`
	Expiry    time.Duration `envconfig:"EXPIRY" default:"15m"`
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges that envconfig can not express.
func (c Config) Validate() error {
	var problems []string

	if c.Upload.BatchSize < 1 {
		problems = append(problems, "upload batch size must be positive")
	}
	if c.Upload.Concurrency < 1 {
		problems = append(problems, "upload concurrency must be positive")
	}
	if c.Upload.MaxFileSize < 1 {
		problems = append(problems, "maximum file size must be positive")
	}
	if c.Storage.MaxAttempts < 1 {
		problems = append(problems, "storage max attempts must be at least 1")
	}
	if c.Storage.Timeout <= 0 {
		problems = append(problems, "storage timeout must be positive")
	}
	if c.Cache.SafetyBuffer < 0 {
		problems = append(problems, "cache safety buffer must not be negative")
	}

	switch c.URLSource {
	case SourceAPI:
	case SourceS3:
		if c.S3.Bucket == "" || c.S3.Region == "" {
			problems = append(problems, "s3 url source needs a bucket and a region")
		}
	case SourceMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			problems = append(problems, "minio url source needs an endpoint and a bucket")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown url source %q, expected one of %s, %s, %s", c.URLSource, SourceAPI, SourceS3, SourceMinio))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ClientParams ...
func (c Config) ClientParams() network.ClientParams {
	return network.ClientParams{
		APIBaseURL:  c.API.BaseURL,
		AccessToken: string(c.API.AccessToken),
		Timeout:     c.API.Timeout,
		RetryMax:    c.API.RetryMax,
	}
}

// UploadConfig ...
func (c Config) UploadConfig() upload.Config {
	return upload.Config{
		BatchSize:           c.Upload.BatchSize,
		Concurrency:         c.Upload.Concurrency,
		MaxFileSize:         int64(c.Upload.MaxFileSize),
		AllowedContentTypes: c.Upload.AllowedTypes,
		UploadPacing:        c.Upload.Pacing,
		ConfirmTimeout:      c.Upload.ConfirmTimeout,
	}
}

// StorageConfig ...
func (c Config) StorageConfig() storage.Config {
	config := storage.DefaultConfig()
	config.MaxAttempts = c.Storage.MaxAttempts
	config.BackoffBase = c.Storage.BackoffBase
	config.BackoffMax = c.Storage.BackoffMax
	config.Timeout = c.Storage.Timeout
	config.HungThreshold = c.Storage.HungThreshold
	return config
}

// BatchConfig ...
func (c Config) BatchConfig() urlcache.BatchConfig {
	return urlcache.BatchConfig{
		TTL:          c.Cache.BatchTTL,
		FetchTimeout: c.Cache.FetchTimeout,
	}
}

// S3Params ...
func (c Config) S3Params() urlsource.S3Params {
	return urlsource.S3Params{
		Region:          c.S3.Region,
		Bucket:          c.S3.Bucket,
		AccessKeyID:     c.S3.AccessKeyID,
		SecretAccessKey: string(c.S3.SecretAccessKey),
		Endpoint:        c.S3.Endpoint,
		KeyPrefix:       c.S3.KeyPrefix,
		Expiry:          c.S3.Expiry,
		VerifyExists:    c.S3.VerifyExists,
	}
}

// MinioParams ...
func (c Config) MinioParams() urlsource.MinioParams {
	return urlsource.MinioParams{
		Endpoint:        c.Minio.Endpoint,
		AccessKeyID:     c.Minio.AccessKey,
		SecretAccessKey: string(c.Minio.SecretKey),
		UseSSL:          c.Minio.UseSSL,
		Region:          c.Minio.Region,
		Bucket:          c.Minio.Bucket,
		KeyPrefix:       c.Minio.KeyPrefix,
		Expiry:          c.Minio.Expiry,
	}
}

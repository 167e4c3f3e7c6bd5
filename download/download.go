// Package download fetches stored photos through their presigned read URLs.
package download

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/galleryio/go-photoaccess/urlcache"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// URLResolver ...
type URLResolver interface {
	URL(ctx context.Context, key urlcache.Key) (string, error)
	Invalidate(key urlcache.Key)
}

// Downloader ...
type Downloader struct {
	resolver URLResolver
	client   *http.Client
	logger   log.Logger
}

// NewDownloader ...
func NewDownloader(resolver URLResolver, logger log.Logger) *Downloader {
	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)

	return &Downloader{
		resolver: resolver,
		client:   retryableHTTPClient.StandardClient(),
		logger:   logger,
	}
}

// Download writes the photo identified by key to dest and returns the written path.
// When dest is an existing directory the photo is stored in it under its resource
// name. A URL that fails is dropped from the cache and the download is retried once
// with a freshly resolved one.
func (d *Downloader) Download(ctx context.Context, key urlcache.Key, dest string) (string, error) {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(key.Resource))
	}

	startTime := time.Now()
	err := d.download(ctx, key, dest)
	if err != nil && ctx.Err() == nil {
		d.logger.Warnf("Download of %s failed, retrying with a new URL: %s", key, err)
		d.resolver.Invalidate(key)
		err = d.download(ctx, key, dest)
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}

	if info, err := os.Stat(dest); err == nil {
		d.logger.Debugf("Downloaded %s (%s) in %s", key, units.HumanSize(float64(info.Size())), time.Since(startTime).Round(time.Millisecond))
	}
	return dest, nil
}

func (d *Downloader) download(ctx context.Context, key urlcache.Key, dest string) error {
	url, err := d.resolver.URL(ctx, key)
	if err != nil {
		return fmt.Errorf("resolve url: %w", err)
	}
	return downloadFile(ctx, d.client, url, dest)
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}

func downloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}

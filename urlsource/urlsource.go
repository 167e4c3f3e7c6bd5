// Package urlsource provides the single-item and collection fetchers behind the URL
// cache: the gallery API, or direct signing against an S3 or MinIO bucket.
package urlsource

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/urlcache"
)

// DefaultExpiry is the lifetime of locally signed URLs.
const DefaultExpiry = 15 * time.Minute

// maxExpiry is the longest lifetime a SigV4 presigned URL may have.
const maxExpiry = 7 * 24 * time.Hour

func objectKey(prefix string, key urlcache.Key) string {
	return path.Join(prefix, key.Collection, key.Resource)
}

func validateExpiry(expiry time.Duration) (time.Duration, error) {
	if expiry == 0 {
		return DefaultExpiry, nil
	}
	if expiry < 0 || expiry > maxExpiry {
		return 0, fmt.Errorf("expiry must be between 1s and %s, got %s", maxExpiry, expiry)
	}
	return expiry, nil
}

type photoURLClient interface {
	PhotoURL(ctx context.Context, galleryID, photoID string) (network.PhotoURL, error)
	PhotoURLs(ctx context.Context, galleryID string) ([]network.PhotoURL, error)
}

// API fetches URLs issued by the gallery backend.
type API struct {
	client photoURLClient
}

// NewAPI ...
func NewAPI(client *network.Client) *API {
	return &API{client: client}
}

// FetchURL ...
func (a *API) FetchURL(ctx context.Context, key urlcache.Key) (urlcache.SignedURL, error) {
	photoURL, err := a.client.PhotoURL(ctx, key.Collection, key.Resource)
	if err != nil {
		return urlcache.SignedURL{}, err
	}
	return urlcache.SignedURL{URL: photoURL.URL, TTL: photoURL.TTL()}, nil
}

// FetchCollection ...
func (a *API) FetchCollection(ctx context.Context, collection string) (map[string]urlcache.SignedURL, error) {
	photoURLs, err := a.client.PhotoURLs(ctx, collection)
	if err != nil {
		return nil, err
	}

	urls := make(map[string]urlcache.SignedURL, len(photoURLs))
	for _, photoURL := range photoURLs {
		if photoURL.PhotoID == "" || photoURL.URL == "" {
			continue
		}
		urls[photoURL.PhotoID] = urlcache.SignedURL{URL: photoURL.URL, TTL: photoURL.TTL()}
	}
	return urls, nil
}

package urlcache

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/singleflight"
)

// Fetcher returns the URL of a single resource.
type Fetcher interface {
	FetchURL(ctx context.Context, key Key) (SignedURL, error)
}

// Result is the outcome of an asynchronous lookup.
type Result struct {
	URL string
	Err error
}

// Resolver answers URL lookups from the cache, falling back to a collection load
// and then to a single fetch. Concurrent single fetches of one key are merged.
type Resolver struct {
	cache        *Cache
	loader       *BatchLoader
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       log.Logger

	group singleflight.Group
}

// NewResolver builds a Resolver. loader may be nil, in which case every miss is fetched individually.
func NewResolver(cache *Cache, loader *BatchLoader, fetcher Fetcher, fetchTimeout time.Duration, logger log.Logger) *Resolver {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultBatchConfig().FetchTimeout
	}
	return &Resolver{
		cache:        cache,
		loader:       loader,
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// URL returns a usable URL for key.
func (r *Resolver) URL(ctx context.Context, key Key) (string, error) {
	if key.Resource == "" {
		return "", fmt.Errorf("resource is empty")
	}
	if url, ok := r.cache.Get(key); ok {
		return url, nil
	}

	if r.loader != nil && key.Collection != "" {
		err := r.loader.EnsureLoaded(ctx, key.Collection)
		switch {
		case err == nil:
			if url, ok := r.cache.Get(key); ok {
				return url, nil
			}
			r.logger.Debugf("%s is not part of its collection load, fetching it alone", key)
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			r.logger.Warnf("Falling back to a single fetch for %s: %s", key, err)
		}
	}

	return r.fetch(ctx, key)
}

// Resolve is the asynchronous form of URL. The channel delivers exactly one Result
// and is then closed.
func (r *Resolver) Resolve(ctx context.Context, key Key) <-chan Result {
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		url, err := r.URL(ctx, key)
		results <- Result{URL: url, Err: err}
	}()
	return results
}

// Invalidate drops the cached URL of key, for example after storage refused it.
func (r *Resolver) Invalidate(key Key) {
	r.cache.Delete(key)
}

func (r *Resolver) fetch(ctx context.Context, key Key) (string, error) {
	results := r.group.DoChan(key.Collection+"\x00"+key.Resource, func() (interface{}, error) {
		if url, ok := r.cache.Get(key); ok {
			return url, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		signed, err := r.fetcher.FetchURL(fetchCtx, key)
		if err != nil {
			return "", fmt.Errorf("fetch url of %s: %w", key, err)
		}
		r.cache.Put(key, signed.URL, signed.TTL)
		return signed.URL, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

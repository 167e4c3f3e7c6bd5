package urlcache

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeBatchFetcher struct {
	mu    sync.Mutex
	calls map[string]int

	urls map[string]map[string]SignedURL
	err  error
	// release, when set, holds every fetch until it is closed.
	release chan struct{}
}

func (f *fakeBatchFetcher) FetchCollection(ctx context.Context, collection string) (map[string]SignedURL, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[collection]++
	err := f.err
	urls := f.urls[collection]
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return urls, nil
}

func (f *fakeBatchFetcher) callCount(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[collection]
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[Key]int

	ttl     time.Duration
	err     error
	release chan struct{}
}

func (f *fakeFetcher) FetchURL(ctx context.Context, key Key) (SignedURL, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[Key]int{}
	}
	f.calls[key]++
	n := f.calls[key]
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return SignedURL{}, ctx.Err()
		}
	}
	if f.err != nil {
		return SignedURL{}, f.err
	}
	return SignedURL{URL: signedURL(key, n), TTL: f.ttl}, nil
}

func (f *fakeFetcher) callCount(key Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func signedURL(key Key, version int) string {
	return "https://storage.test/" + key.Resource + "?sig=" + string(rune('a'+version-1))
}

package urlcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func galleryURLs(resources ...string) map[string]SignedURL {
	urls := map[string]SignedURL{}
	for _, resource := range resources {
		urls[resource] = SignedURL{URL: "https://storage.test/" + resource, TTL: time.Hour}
	}
	return urls
}

func newTestLoader(fetcher BatchFetcher, clock *fakeClock) (*BatchLoader, *Cache) {
	cache := newTestCache(clock)
	loader := NewBatchLoader(fetcher, cache, DefaultBatchConfig(), log.NewLogger())
	loader.now = clock.Now
	return loader, cache
}

func TestBatchLoader_ConcurrentCallersShareOneFetch(t *testing.T) {
	fetcher := &fakeBatchFetcher{
		urls:    map[string]map[string]SignedURL{"g1": galleryURLs("p1", "p2")},
		release: make(chan struct{}),
	}
	loader, cache := newTestLoader(fetcher, newFakeClock())

	const callers = 20
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = loader.EnsureLoaded(context.Background(), "g1")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, fetcher.callCount("g1"))

	url, ok := cache.Get(Key{Collection: "g1", Resource: "p2"})
	assert.True(t, ok)
	assert.Equal(t, "https://storage.test/p2", url)
}

func TestBatchLoader_FreshnessWindow(t *testing.T) {
	clock := newFakeClock()
	fetcher := &fakeBatchFetcher{urls: map[string]map[string]SignedURL{"g1": galleryURLs("p1")}}
	loader, _ := newTestLoader(fetcher, clock)

	require.NoError(t, loader.EnsureLoaded(context.Background(), "g1"))
	clock.Advance(4 * time.Minute)
	require.NoError(t, loader.EnsureLoaded(context.Background(), "g1"))
	assert.Equal(t, 1, fetcher.callCount("g1"))

	clock.Advance(2 * time.Minute)
	require.NoError(t, loader.EnsureLoaded(context.Background(), "g1"))
	assert.Equal(t, 2, fetcher.callCount("g1"))

	loader.Invalidate("g1")
	require.NoError(t, loader.EnsureLoaded(context.Background(), "g1"))
	assert.Equal(t, 3, fetcher.callCount("g1"))
}

func TestBatchLoader_CollectionsAreIndependent(t *testing.T) {
	fetcher := &fakeBatchFetcher{urls: map[string]map[string]SignedURL{
		"g1": galleryURLs("p1"),
		"g2": galleryURLs("p9"),
	}}
	loader, cache := newTestLoader(fetcher, newFakeClock())

	require.NoError(t, loader.EnsureLoaded(context.Background(), "g1"))
	require.NoError(t, loader.EnsureLoaded(context.Background(), "g2"))

	assert.Equal(t, 1, fetcher.callCount("g1"))
	assert.Equal(t, 1, fetcher.callCount("g2"))
	_, ok := cache.Get(Key{Collection: "g1", Resource: "p9"})
	assert.False(t, ok)
}

func TestBatchLoader_FailureResetsState(t *testing.T) {
	fetcher := &fakeBatchFetcher{err: errors.New("backend unavailable")}
	loader, _ := newTestLoader(fetcher, newFakeClock())

	err := loader.EnsureLoaded(context.Background(), "g1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.urls = map[string]map[string]SignedURL{"g1": galleryURLs("p1")}
	fetcher.mu.Unlock()

	require.NoError(t, loader.EnsureLoaded(context.Background(), "g1"))
	assert.Equal(t, 2, fetcher.callCount("g1"))
}

func TestBatchLoader_CallerCancellationDoesNotAffectOthers(t *testing.T) {
	fetcher := &fakeBatchFetcher{
		urls:    map[string]map[string]SignedURL{"g1": galleryURLs("p1")},
		release: make(chan struct{}),
	}
	loader, cache := newTestLoader(fetcher, newFakeClock())

	patient := make(chan error, 1)
	go func() {
		patient <- loader.EnsureLoaded(context.Background(), "g1")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	impatient := make(chan error, 1)
	go func() {
		impatient <- loader.EnsureLoaded(ctx, "g1")
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-impatient, context.Canceled)

	close(fetcher.release)
	assert.NoError(t, <-patient)
	assert.Equal(t, 1, fetcher.callCount("g1"))

	_, ok := cache.Get(Key{Collection: "g1", Resource: "p1"})
	assert.True(t, ok)
}

func TestBatchLoader_EmptyCollection(t *testing.T) {
	loader, _ := newTestLoader(&fakeBatchFetcher{}, newFakeClock())

	require.Error(t, loader.EnsureLoaded(context.Background(), ""))
}

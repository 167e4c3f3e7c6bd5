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

type testResolver struct {
	*Resolver
	clock        *fakeClock
	cache        *Cache
	batchFetcher *fakeBatchFetcher
	fetcher      *fakeFetcher
}

func newTestResolver(batchFetcher *fakeBatchFetcher, fetcher *fakeFetcher) testResolver {
	clock := newFakeClock()
	cache := newTestCache(clock)

	var loader *BatchLoader
	if batchFetcher != nil {
		loader = NewBatchLoader(batchFetcher, cache, DefaultBatchConfig(), log.NewLogger())
		loader.now = clock.Now
	}
	return testResolver{
		Resolver:     NewResolver(cache, loader, fetcher, time.Second, log.NewLogger()),
		clock:        clock,
		cache:        cache,
		batchFetcher: batchFetcher,
		fetcher:      fetcher,
	}
}

func TestResolver_GalleryKeysUseOneBatchLoad(t *testing.T) {
	r := newTestResolver(
		&fakeBatchFetcher{
			urls:    map[string]map[string]SignedURL{"g1": galleryURLs("p1", "p2")},
			release: make(chan struct{}),
		},
		&fakeFetcher{ttl: time.Hour},
	)

	var wg sync.WaitGroup
	urls := make([]string, 2)
	for i, resource := range []string{"p1", "p2"} {
		wg.Add(1)
		go func(i int, resource string) {
			defer wg.Done()
			url, err := r.URL(context.Background(), Key{Collection: "g1", Resource: resource})
			assert.NoError(t, err)
			urls[i] = url
		}(i, resource)
	}
	time.Sleep(20 * time.Millisecond)
	close(r.batchFetcher.release)
	wg.Wait()

	assert.Equal(t, []string{"https://storage.test/p1", "https://storage.test/p2"}, urls)
	assert.Equal(t, 1, r.batchFetcher.callCount("g1"))
	assert.Equal(t, 0, r.fetcher.callCount(Key{Collection: "g1", Resource: "p1"}))
	assert.Equal(t, 0, r.fetcher.callCount(Key{Collection: "g1", Resource: "p2"}))
}

func TestResolver_RefetchesOnlyAfterSafetyBuffer(t *testing.T) {
	r := newTestResolver(nil, &fakeFetcher{ttl: time.Hour})
	key := Key{Resource: "p1"}

	first, err := r.URL(context.Background(), key)
	require.NoError(t, err)

	r.clock.Advance(50 * time.Minute)
	second, err := r.URL(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.fetcher.callCount(key))

	r.clock.Advance(6 * time.Minute)
	third, err := r.URL(context.Background(), key)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, r.fetcher.callCount(key))

	fourth, err := r.URL(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, third, fourth)
	assert.Equal(t, 2, r.fetcher.callCount(key))
}

func TestResolver_ConcurrentSingleFetchesAreMerged(t *testing.T) {
	r := newTestResolver(nil, &fakeFetcher{ttl: time.Hour, release: make(chan struct{})})
	key := Key{Resource: "p1"}

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			url, err := r.URL(context.Background(), key)
			assert.NoError(t, err)
			assert.Equal(t, signedURL(key, 1), url)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(r.fetcher.release)
	wg.Wait()

	assert.Equal(t, 1, r.fetcher.callCount(key))
}

func TestResolver_FallsBackToSingleFetch(t *testing.T) {
	tests := []struct {
		name         string
		batchFetcher *fakeBatchFetcher
	}{
		{
			name:         "resource missing from the collection",
			batchFetcher: &fakeBatchFetcher{urls: map[string]map[string]SignedURL{"g1": galleryURLs("p1")}},
		},
		{
			name:         "collection load failed",
			batchFetcher: &fakeBatchFetcher{err: errors.New("backend unavailable")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(tt.batchFetcher, &fakeFetcher{ttl: time.Hour})
			key := Key{Collection: "g1", Resource: "p7"}

			url, err := r.URL(context.Background(), key)
			require.NoError(t, err)

			assert.Equal(t, signedURL(key, 1), url)
			assert.Equal(t, 1, r.fetcher.callCount(key))
		})
	}
}

func TestResolver_FetchError(t *testing.T) {
	r := newTestResolver(nil, &fakeFetcher{err: errors.New("not found")})

	_, err := r.URL(context.Background(), Key{Resource: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, 0, r.cache.Len())

	_, err = r.URL(context.Background(), Key{})
	require.Error(t, err)
}

func TestResolver_CallerCancellation(t *testing.T) {
	r := newTestResolver(nil, &fakeFetcher{ttl: time.Hour, release: make(chan struct{})})
	key := Key{Resource: "p1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := r.URL(ctx, key)
		cancelled <- err
	}()

	patient := r.Resolve(context.Background(), key)

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)

	close(r.fetcher.release)
	result := <-patient
	require.NoError(t, result.Err)
	assert.Equal(t, signedURL(key, 1), result.URL)

	_, open := <-patient
	assert.False(t, open)
	assert.Equal(t, 1, r.fetcher.callCount(key))
}

func TestResolver_Invalidate(t *testing.T) {
	r := newTestResolver(nil, &fakeFetcher{ttl: time.Hour})
	key := Key{Resource: "p1"}

	_, err := r.URL(context.Background(), key)
	require.NoError(t, err)

	r.Invalidate(key)
	url, err := r.URL(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, signedURL(key, 2), url)
}

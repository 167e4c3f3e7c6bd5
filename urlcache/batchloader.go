package urlcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// SignedURL is a presigned URL and how long it stays valid.
type SignedURL struct {
	URL string
	TTL time.Duration
}

// BatchFetcher returns the URLs of every resource of a collection, keyed by resource.
type BatchFetcher interface {
	FetchCollection(ctx context.Context, collection string) (map[string]SignedURL, error)
}

// BatchConfig ...
type BatchConfig struct {
	// TTL is how long a loaded collection counts as fresh.
	TTL time.Duration
	// FetchTimeout bounds the shared fetch, which outlives any single waiting caller.
	FetchTimeout time.Duration
}

// DefaultBatchConfig ...
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		TTL:          5 * time.Minute,
		FetchTimeout: 30 * time.Second,
	}
}

type batchState int

const (
	stateEmpty batchState = iota
	stateLoading
	stateLoaded
)

type batchCall struct {
	done chan struct{}
	err  error
}

type collectionState struct {
	state    batchState
	call     *batchCall
	loadedAt time.Time
}

// BatchLoader fills a Cache one collection at a time. At most one fetch per
// collection is in flight; every concurrent caller waits for that same fetch.
type BatchLoader struct {
	fetcher BatchFetcher
	cache   *Cache
	config  BatchConfig
	logger  log.Logger

	mu     sync.Mutex
	states map[string]*collectionState
	now    func() time.Time
}

// NewBatchLoader ...
func NewBatchLoader(fetcher BatchFetcher, cache *Cache, config BatchConfig, logger log.Logger) *BatchLoader {
	defaults := DefaultBatchConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	return &BatchLoader{
		fetcher: fetcher,
		cache:   cache,
		config:  config,
		logger:  logger,
		states:  map[string]*collectionState{},
		now:     time.Now,
	}
}

// EnsureLoaded returns once the collection has been loaded within the batch TTL. A
// cancelled ctx only ends this caller's wait; the shared fetch keeps running for
// the others.
func (l *BatchLoader) EnsureLoaded(ctx context.Context, collection string) error {
	if collection == "" {
		return fmt.Errorf("collection is empty")
	}

	l.mu.Lock()
	st, ok := l.states[collection]
	if !ok {
		st = &collectionState{}
		l.states[collection] = st
	}

	switch st.state {
	case stateLoaded:
		if l.now().Sub(st.loadedAt) < l.config.TTL {
			l.mu.Unlock()
			return nil
		}
		l.start(collection, st)
	case stateEmpty:
		l.start(collection, st)
	}
	call := st.call
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.done:
		return call.err
	}
}

// Invalidate forgets a loaded collection so the next caller fetches it again.
func (l *BatchLoader) Invalidate(collection string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.states[collection]; ok && st.state == stateLoaded {
		st.state = stateEmpty
	}
}

// start must be called with l.mu held.
func (l *BatchLoader) start(collection string, st *collectionState) {
	call := &batchCall{done: make(chan struct{})}
	st.state = stateLoading
	st.call = call

	go l.load(collection, st, call)
}

func (l *BatchLoader) load(collection string, st *collectionState, call *batchCall) {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.FetchTimeout)
	defer cancel()

	startTime := time.Now()
	urls, err := l.fetcher.FetchCollection(ctx, collection)
	if err != nil {
		err = fmt.Errorf("load collection %s: %w", collection, err)
		l.logger.Warnf("%s", err)
	} else {
		for resource, signed := range urls {
			l.cache.Put(Key{Collection: collection, Resource: resource}, signed.URL, signed.TTL)
		}
		l.logger.Debugf("Loaded %d URLs of collection %s in %s", len(urls), collection, time.Since(startTime).Round(time.Millisecond))
	}

	l.mu.Lock()
	if err != nil {
		st.state = stateEmpty
	} else {
		st.state = stateLoaded
		st.loadedAt = l.now()
	}
	st.call = nil
	call.err = err
	l.mu.Unlock()

	close(call.done)
}

package upload

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/storage"
	"github.com/galleryio/go-photoaccess/uploaderr"
)

// eventLog records the order of backend and storage calls across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeIntents struct {
	mu sync.Mutex

	intentErr  error
	batchErr   error
	confirmErr error
	// rejected maps a filename to the backend's rejection reason.
	rejected map[string]string
	// truncate shortens batch responses to this many items when positive.
	truncate int

	singleCalls    []network.FileMeta
	batchCalls     [][]network.FileMeta
	confirmUploads []string
	confirmBatches [][]network.Confirmation
	confirmCtxErrs []error

	log *eventLog
}

func photoID(filename string) string {
	return "photo-" + filename
}

func fakeDescriptor(filename string) storage.Descriptor {
	return storage.Descriptor{
		URL: "https://storage.test/photos",
		Fields: storage.Fields{
			{Name: "key", Value: "originals/" + filename},
			{Name: "policy", Value: "cG9saWN5"},
		},
	}
}

func (f *fakeIntents) RequestIntent(_ context.Context, _ string, file network.FileMeta) (network.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.singleCalls = append(f.singleCalls, file)
	f.log.add("intent %s", file.Filename)
	if f.intentErr != nil {
		return network.Intent{}, f.intentErr
	}
	return network.Intent{PhotoID: photoID(file.Filename), Descriptor: fakeDescriptor(file.Filename)}, nil
}

func (f *fakeIntents) RequestBatchIntents(_ context.Context, _ string, files []network.FileMeta) ([]network.IntentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCalls = append(f.batchCalls, files)
	var names []string
	for _, file := range files {
		names = append(names, file.Filename)
	}
	f.log.add("intents %v", names)
	if f.batchErr != nil {
		return nil, f.batchErr
	}

	var items []network.IntentResult
	for _, file := range files {
		if reason, ok := f.rejected[file.Filename]; ok {
			items = append(items, network.IntentResult{Success: false, Error: reason})
			continue
		}
		desc := fakeDescriptor(file.Filename)
		items = append(items, network.IntentResult{Success: true, PhotoID: photoID(file.Filename), Descriptor: &desc})
	}
	if f.truncate > 0 && f.truncate < len(items) {
		items = items[:f.truncate]
	}
	return items, nil
}

func (f *fakeIntents) ConfirmUpload(ctx context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.confirmUploads = append(f.confirmUploads, id)
	f.confirmCtxErrs = append(f.confirmCtxErrs, ctx.Err())
	f.log.add("confirm %s", id)
	return f.confirmErr
}

func (f *fakeIntents) ConfirmBatch(ctx context.Context, _ string, items []network.Confirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.confirmBatches = append(f.confirmBatches, items)
	f.confirmCtxErrs = append(f.confirmCtxErrs, ctx.Err())
	f.log.add("confirm batch of %d", len(items))
	return f.confirmErr
}

type fakeUploader struct {
	mu sync.Mutex

	// failures maps a filename to the error its upload returns.
	failures map[string]error
	// block makes the upload of a filename wait for cancellation.
	block map[string]bool
	delay time.Duration
	// onStart runs before an upload does anything else.
	onStart func(filename string)

	calls     []string
	active    int
	maxActive int

	log *eventLog
}

func (u *fakeUploader) Upload(ctx context.Context, _ storage.Descriptor, file storage.File, onProgress storage.ProgressFunc) error {
	if u.onStart != nil {
		u.onStart(file.Name())
	}

	u.mu.Lock()
	u.calls = append(u.calls, file.Name())
	u.active++
	if u.active > u.maxActive {
		u.maxActive = u.active
	}
	failure := u.failures[file.Name()]
	block := u.block[file.Name()]
	u.mu.Unlock()
	u.log.add("upload %s", file.Name())

	defer func() {
		u.mu.Lock()
		u.active--
		u.mu.Unlock()
	}()

	if onProgress != nil {
		onProgress(50)
	}

	if block {
		<-ctx.Done()
		return uploaderr.Cancelled(ctx.Err())
	}
	if u.delay > 0 {
		select {
		case <-ctx.Done():
			return uploaderr.Cancelled(ctx.Err())
		case <-time.After(u.delay):
		}
	}
	if failure != nil {
		return failure
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

func (u *fakeUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

func photo(name string, size int) *storage.MemoryFile {
	return storage.NewMemoryFile(name, "image/jpeg", bytes.Repeat([]byte{0xff}, size))
}

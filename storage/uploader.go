package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/galleryio/go-photoaccess/uploaderr"
)

// ProgressFunc receives the transferred share of one file, 0-100.
type ProgressFunc func(percent float64)

// Uploader performs direct-to-storage photo writes with retry and hung detection.
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
	stats      *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		stats:      NewStats(),
	}
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	u.httpClient.CloseIdleConnections()
}

// Upload writes file to storage using desc. The returned error is an *uploaderr.Error:
// KindCancelled when ctx ends, otherwise the classification of the last attempt.
func (u *Uploader) Upload(ctx context.Context, desc Descriptor, file File, onProgress ProgressFunc) error {
	if file.Size() <= 0 {
		return uploaderr.Validation("file %s is empty", file.Name())
	}
	if desc.URL == "" {
		return uploaderr.Descriptor("descriptor has no upload url", false, nil)
	}

	attempts := 0
	err := retry.Times(uint(u.config.MaxAttempts - 1)).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			delay := u.config.backoff(int(attempt))
			u.logger.Debugf("Retrying %s in %s (attempt %d/%d)", file.Name(), delay, attempt+1, u.config.MaxAttempts)
			if err := sleep(ctx, delay); err != nil {
				return uploaderr.Cancelled(err), true
			}
		}
		if err := ctx.Err(); err != nil {
			return uploaderr.Cancelled(err), true
		}

		attempts = int(attempt) + 1
		err := u.uploadAttempt(ctx, desc, file, onProgress, attempts)
		if err == nil {
			return nil, true
		}
		if uploaderr.IsCancelled(err) {
			return err, true
		}

		u.logger.Warnf("Upload of %s attempt %d failed: %s", file.Name(), attempts, err)
		return err, !uploaderr.IsRetryable(err)
	})

	var uploadErr *uploaderr.Error
	if errors.As(err, &uploadErr) && uploadErr.Kind != uploaderr.KindCancelled {
		uploadErr.Attempts = attempts
	}
	return err
}

func (u *Uploader) uploadAttempt(ctx context.Context, desc Descriptor, file File, onProgress ProgressFunc, attempt int) error {
	start := time.Now()

	var attemptCtx context.Context
	var cancelAttempt context.CancelFunc
	if u.config.Timeout > 0 {
		attemptCtx, cancelAttempt = context.WithTimeout(ctx, u.config.Timeout)
	} else {
		attemptCtx, cancelAttempt = context.WithCancel(ctx)
	}
	defer cancelAttempt()

	// The last attempt is never cut short by hung detection
	var hung atomic.Bool
	if attempt < u.config.MaxAttempts && u.config.HungThreshold > 0 {
		go u.detectHungUpload(attemptCtx, func() {
			hung.Store(true)
			cancelAttempt()
		}, start, file.Name())
	}

	size := file.Size()
	body, err := newUploadBody(desc, file, func(n int64) {
		if onProgress != nil {
			onProgress(float64(n) * 100 / float64(size))
		}
	})
	if err != nil {
		return uploaderr.FileAccess(err)
	}
	defer body.Close() //nolint:errcheck

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, desc.URL, body.reader)
	if err != nil {
		return &uploaderr.Error{Kind: uploaderr.KindValidation, Op: "create request", Err: err}
	}
	req.ContentLength = body.length
	req.Header.Set("Content-Type", body.contentType)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return uploaderr.Cancelled(ctx.Err())
		case hung.Load():
			return uploaderr.Transport(fmt.Errorf("upload hung after %s: %w", time.Since(start).Round(time.Second), err))
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return uploaderr.Transport(fmt.Errorf("attempt timed out after %s: %w", u.config.Timeout, err))
		default:
			return uploaderr.Transport(err)
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, excerpt, 1)
		return uploaderr.Rejected(resp.StatusCode, string(excerpt[:n]))
	}

	took := time.Since(start)
	u.stats.Update(took, size)
	if onProgress != nil {
		onProgress(100)
	}
	key, _ := desc.Fields.Get("key")
	u.logger.Debugf("Uploaded %s (%s) to %q in %s", file.Name(), units.HumanSize(float64(size)), key, took.Round(time.Millisecond))

	return nil
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel func(), start time.Time, name string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung upload (%s); canceling request after %s (avg: %s)",
						name, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

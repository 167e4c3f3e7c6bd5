package storage

import (
	"net/http"
	"time"
)

// Config holds configuration for the storage uploader.
type Config struct {
	// MaxAttempts is the attempt ceiling for one file, first try included.
	// Default: 3
	MaxAttempts int

	// BackoffBase is the delay before the first retry. Later retries wait
	// BackoffBase * 3^(retry-1).
	// Default: 1 second
	BackoffBase time.Duration

	// BackoffMax caps a single backoff delay.
	// Default: 10 seconds
	BackoffMax time.Duration

	// Timeout bounds one upload attempt.
	// Default: 10 minutes
	Timeout time.Duration

	// HungThreshold is the duration after which an attempt is considered hung
	// if it exceeds the average upload time by this amount. Zero disables detection.
	// Default: 60 seconds
	HungThreshold time.Duration

	// HTTPClient is the HTTP client to use for uploads.
	// If nil, a default client tuned for large bodies is created.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffMax:    10 * time.Second,
		Timeout:       10 * time.Minute,
		HungThreshold: 60 * time.Second,
		HTTPClient:    nil, // Will be created by Uploader
	}
}

// DefaultHTTPClient creates an HTTP client for direct-to-storage writes.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - attempt timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// backoff returns the wait before the given retry (1-based).
func (c Config) backoff(retry int) time.Duration {
	if retry < 1 || c.BackoffBase <= 0 {
		return 0
	}
	d := c.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 3
		if c.BackoffMax > 0 && d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if c.BackoffMax > 0 && d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

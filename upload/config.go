package upload

import (
	"mime"
	"strings"
	"time"
)

// DefaultBatchSize is the number of files per descriptor request. It is a tuning
// knob, not a correctness bound.
const DefaultBatchSize = 50

// Config ...
type Config struct {
	// BatchSize is the maximum number of files per descriptor request and confirmation.
	BatchSize int
	// Concurrency is the number of simultaneous storage writes within a batch.
	Concurrency int
	// MaxFileSize rejects larger files before any network call.
	MaxFileSize int64
	// AllowedContentTypes lists accepted MIME types; "image/*" style wildcards match a
	// whole top-level type. Empty accepts everything.
	AllowedContentTypes []string
	// UploadPacing is the pause a worker takes between two consecutive uploads.
	UploadPacing time.Duration
	// ConfirmTimeout bounds a confirmation call that outlives a cancelled run.
	ConfirmTimeout time.Duration
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		BatchSize:           DefaultBatchSize,
		Concurrency:         3,
		MaxFileSize:         50 * 1024 * 1024,
		AllowedContentTypes: []string{"image/*"},
		UploadPacing:        100 * time.Millisecond,
		ConfirmTimeout:      30 * time.Second,
	}
}

func (c Config) allows(contentType string) bool {
	if len(c.AllowedContentTypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range c.AllowedContentTypes {
		if strings.HasSuffix(allowed, "/*") {
			if strings.HasPrefix(mediaType, strings.TrimSuffix(allowed, "*")) {
				return true
			}
			continue
		}
		if mediaType == allowed {
			return true
		}
	}
	return false
}

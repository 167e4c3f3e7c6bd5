package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/galleryio/go-photoaccess/storage"
)

// FileMeta describes a file an upload descriptor is requested for.
type FileMeta struct {
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// Intent is an issued upload descriptor with the photo record it will fill.
type Intent struct {
	PhotoID    string             `json:"photo_id"`
	Descriptor storage.Descriptor `json:"presigned_data"`
}

// IntentResult is one item of a batch intent answer.
type IntentResult struct {
	Success    bool                `json:"success"`
	PhotoID    string              `json:"photo_id,omitempty"`
	Descriptor *storage.Descriptor `json:"presigned_data,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Confirmation reports the outcome of one storage write.
type Confirmation struct {
	PhotoID string `json:"photo_id"`
	Success bool   `json:"success"`
}

type batchIntentRequest struct {
	Files []FileMeta `json:"files"`
}

type batchIntentResponse struct {
	Items []IntentResult `json:"items"`
}

type confirmRequest struct {
	PhotoID string `json:"photo_id"`
}

type batchConfirmRequest struct {
	Items []Confirmation `json:"items"`
}

// RequestIntent asks for a single-file upload descriptor.
func (c *Client) RequestIntent(ctx context.Context, galleryID string, file FileMeta) (Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodPost, c.photosURL(galleryID, "upload-intent"), file, &intent); err != nil {
		return Intent{}, fmt.Errorf("request upload intent: %w", err)
	}
	if intent.PhotoID == "" || intent.Descriptor.URL == "" {
		return Intent{}, fmt.Errorf("request upload intent: incomplete descriptor for %s", file.Filename)
	}
	return intent, nil
}

// RequestBatchIntents asks for descriptors of several files in one round trip.
// Items correspond to files by index on a best-effort basis; the answer may be
// shorter than the request when the backend rejects a subset.
func (c *Client) RequestBatchIntents(ctx context.Context, galleryID string, files []FileMeta) ([]IntentResult, error) {
	var response batchIntentResponse
	if err := c.do(ctx, http.MethodPost, c.photosURL(galleryID, "batch-presigned"), batchIntentRequest{Files: files}, &response); err != nil {
		return nil, fmt.Errorf("request batch upload intents: %w", err)
	}
	if len(response.Items) < len(files) {
		c.logger.Warnf("Backend issued %d descriptors for %d files", len(response.Items), len(files))
	}
	return response.Items, nil
}

// ConfirmUpload acknowledges a single successful storage write.
func (c *Client) ConfirmUpload(ctx context.Context, galleryID, photoID string) error {
	if err := c.do(ctx, http.MethodPost, c.photosURL(galleryID, "confirm-upload"), confirmRequest{PhotoID: photoID}, nil); err != nil {
		return fmt.Errorf("confirm upload: %w", err)
	}
	return nil
}

// ConfirmBatch reports the successes and failures of one batch together.
func (c *Client) ConfirmBatch(ctx context.Context, galleryID string, items []Confirmation) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, c.photosURL(galleryID, "batch-confirm"), batchConfirmRequest{Items: items}, nil); err != nil {
		return fmt.Errorf("confirm batch: %w", err)
	}
	return nil
}

func (c *Client) photosURL(galleryID string, elems ...string) string {
	u := fmt.Sprintf("%s/galleries/%s/photos", c.baseURL, url.PathEscape(galleryID))
	for _, elem := range elems {
		u += "/" + url.PathEscape(elem)
	}
	return u
}

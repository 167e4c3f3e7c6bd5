package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// PhotoURL is a presigned read URL. ExpiresIn is its lifetime in seconds as
// reported by the issuer.
type PhotoURL struct {
	PhotoID   string `json:"photo_id"`
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expires_in"`
}

// TTL ...
func (u PhotoURL) TTL() time.Duration {
	return time.Duration(u.ExpiresIn) * time.Second
}

type photoURLsResponse struct {
	URLs []PhotoURL `json:"urls"`
}

// PhotoURL fetches the read URL of one photo. An empty galleryID addresses the
// photo directly, without gallery-gated access.
func (c *Client) PhotoURL(ctx context.Context, galleryID, photoID string) (PhotoURL, error) {
	var endpoint string
	if galleryID == "" {
		endpoint = fmt.Sprintf("%s/photos/%s/url", c.baseURL, url.PathEscape(photoID))
	} else {
		endpoint = c.photosURL(galleryID, photoID, "url")
	}

	var response PhotoURL
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return PhotoURL{}, fmt.Errorf("get photo url: %w", err)
	}
	if response.URL == "" {
		return PhotoURL{}, fmt.Errorf("get photo url: empty url for %s", photoID)
	}
	if response.PhotoID == "" {
		response.PhotoID = photoID
	}
	return response, nil
}

// PhotoURLs fetches read URLs for every photo of a gallery in one round trip.
func (c *Client) PhotoURLs(ctx context.Context, galleryID string) ([]PhotoURL, error) {
	var response photoURLsResponse
	if err := c.do(ctx, http.MethodGet, c.photosURL(galleryID, "urls"), nil, &response); err != nil {
		return nil, fmt.Errorf("get gallery photo urls: %w", err)
	}
	return response.URLs, nil
}

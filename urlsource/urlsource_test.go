package urlsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/urlcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePhotoURLClient struct {
	urls map[string][]network.PhotoURL
	err  error
}

func (c fakePhotoURLClient) PhotoURL(_ context.Context, galleryID, photoID string) (network.PhotoURL, error) {
	if c.err != nil {
		return network.PhotoURL{}, c.err
	}
	for _, photoURL := range c.urls[galleryID] {
		if photoURL.PhotoID == photoID {
			return photoURL, nil
		}
	}
	return network.PhotoURL{}, network.ErrNotFound
}

func (c fakePhotoURLClient) PhotoURLs(_ context.Context, galleryID string) ([]network.PhotoURL, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.urls[galleryID], nil
}

func TestAPI(t *testing.T) {
	api := &API{client: fakePhotoURLClient{urls: map[string][]network.PhotoURL{
		"g1": {
			{PhotoID: "p1", URL: "https://storage.test/p1", ExpiresIn: 3600},
			{PhotoID: "p2", URL: "https://storage.test/p2", ExpiresIn: 600},
			{PhotoID: "", URL: "https://storage.test/orphan", ExpiresIn: 600},
		},
		"": {
			{PhotoID: "p1", URL: "https://storage.test/public/p1", ExpiresIn: 900},
		},
	}}}

	urls, err := api.FetchCollection(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string]urlcache.SignedURL{
		"p1": {URL: "https://storage.test/p1", TTL: time.Hour},
		"p2": {URL: "https://storage.test/p2", TTL: 10 * time.Minute},
	}, urls)

	signed, err := api.FetchURL(context.Background(), urlcache.Key{Resource: "p1"})
	require.NoError(t, err)
	assert.Equal(t, urlcache.SignedURL{URL: "https://storage.test/public/p1", TTL: 15 * time.Minute}, signed)

	_, err = api.FetchURL(context.Background(), urlcache.Key{Collection: "g1", Resource: "p9"})
	assert.True(t, errors.Is(err, network.ErrNotFound))
}

func TestNewS3Source_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params S3Params
	}{
		{name: "missing bucket", params: S3Params{Region: "us-east-1"}},
		{name: "missing region", params: S3Params{Bucket: "photos"}},
		{name: "expiry too long", params: S3Params{Region: "us-east-1", Bucket: "photos", Expiry: 8 * 24 * time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Source(context.Background(), tt.params, log.NewLogger())
			require.Error(t, err)
		})
	}
}

func TestS3Source_FetchURL(t *testing.T) {
	source, err := NewS3Source(context.Background(), S3Params{
		Region:          "us-east-1",
		Bucket:          "photos",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        "http://localhost:9000",
		KeyPrefix:       "originals",
		Expiry:          10 * time.Minute,
	}, log.NewLogger())
	require.NoError(t, err)

	signed, err := source.FetchURL(context.Background(), urlcache.Key{Collection: "g1", Resource: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, signed.TTL)
	assert.Contains(t, signed.URL, "http://localhost:9000/photos/originals/g1/p1?")
	assert.Contains(t, signed.URL, "X-Amz-Expires=600")
	assert.Contains(t, signed.URL, "X-Amz-Signature=")
}

func TestS3Source_VerifyExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/photos/g1/p1" {
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	source, err := NewS3Source(context.Background(), S3Params{
		Region:          "us-east-1",
		Bucket:          "photos",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        server.URL,
		VerifyExists:    true,
	}, log.NewLogger())
	require.NoError(t, err)

	signed, err := source.FetchURL(context.Background(), urlcache.Key{Collection: "g1", Resource: "p1"})
	require.NoError(t, err)
	assert.Contains(t, signed.URL, "/photos/g1/p1?")

	_, err = source.FetchURL(context.Background(), urlcache.Key{Collection: "g1", Resource: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, network.ErrNotFound))
}

func TestMinioSource_FetchURL(t *testing.T) {
	source, err := NewMinioSource(MinioParams{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "photos",
		KeyPrefix:       "originals",
		Expiry:          10 * time.Minute,
	}, log.NewLogger())
	require.NoError(t, err)

	signed, err := source.FetchURL(context.Background(), urlcache.Key{Resource: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, signed.TTL)
	assert.Contains(t, signed.URL, "http://localhost:9000/photos/originals/p1?")
	assert.Contains(t, signed.URL, "X-Amz-Expires=600")
}

func TestNewMinioSource_Validation(t *testing.T) {
	_, err := NewMinioSource(MinioParams{Bucket: "photos"}, log.NewLogger())
	require.Error(t, err)

	_, err = NewMinioSource(MinioParams{Endpoint: "localhost:9000"}, log.NewLogger())
	require.Error(t, err)
}

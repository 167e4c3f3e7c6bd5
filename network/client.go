// Package network talks to the gallery backend: it requests presigned upload
// descriptors, confirms finished uploads and fetches presigned read URLs.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotFound ...
var ErrNotFound = errors.New("photo not found")

// HTTPError is a non-2xx answer from the gallery backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ClientParams ...
type ClientParams struct {
	APIBaseURL  string
	AccessToken string
	// Timeout bounds one request, retries included. Zero keeps the transport default.
	Timeout time.Duration
	// RetryMax is the number of retries of idempotent-safe failures (5xx, 429, transport).
	// Negative keeps the retryablehttp default.
	RetryMax int
}

// Client ...
type Client struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewClient ...
func NewClient(params ClientParams, logger log.Logger) (*Client, error) {
	if params.APIBaseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}
	if params.AccessToken == "" {
		return nil, fmt.Errorf("API access token is empty")
	}

	httpClient := retryhttp.NewClient(logger)
	if params.RetryMax >= 0 {
		httpClient.RetryMax = params.RetryMax
	}
	if params.Timeout > 0 {
		httpClient.HTTPClient.Timeout = params.Timeout
	}

	return newClient(httpClient, params.APIBaseURL, params.AccessToken, logger), nil
}

func newClient(httpClient *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// do sends a JSON request and decodes a JSON answer into response, if given.
func (c *Client) do(ctx context.Context, method, url string, requestBody, response interface{}) error {
	var body interface{}
	if requestBody != nil {
		b, err := json.Marshal(requestBody)
		if err != nil {
			return err
		}
		body = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-type", "application/json")
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, unwrapError(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(errorResp))}
}

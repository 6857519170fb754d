package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// DefaultUserAgent is sent when no probe User-Agent is configured.
const DefaultUserAgent = "kanstar-preload/1.0"

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// ContentTypeError reports a response that a browser could not decode as an image.
type ContentTypeError struct {
	URL         string
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("%s is not an image (content type %q)", e.URL, e.ContentType)
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
	}
}

// WithClient swaps the underlying HTTP client (tests use httptest clients).
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// WithUserAgent sets the User-Agent header. Empty keeps the default.
func (f *Fetcher) WithUserAgent(ua string) *Fetcher {
	if ua != "" {
		f.userAgent = ua
	}
	return f
}

// GetHtmlBytes returns the raw page body.
func (f *Fetcher) GetHtmlBytes(ctx context.Context, url string) ([]byte, error) {
	body, _, err := f.get(ctx, url)
	return body, err
}

// FetchAsset downloads an asset and confirms it is image-like.
// The request is bound to ctx, so a deadline on ctx abandons the transfer.
func (f *Fetcher) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	body, contentType, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	if !isImageLike(contentType) {
		return nil, &ContentTypeError{URL: url, ContentType: contentType}
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return bodyBytes, resp.Header.Get("Content-Type"), nil
}

func isImageLike(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "video/") ||
		mediaType == "application/octet-stream"
}

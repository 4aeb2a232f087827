// Package media verifies that outbound media URLs are publicly fetchable
// before they are handed to the messaging provider, rehosting them when
// they are not.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

const maxRehostBytes = 25 << 20 // provider media cap

// Checker probes media URLs and falls back to rehosting. A nil Rehoster
// disables the fallback; unreachable media then ships as-is and the
// provider surfaces the failure.
type Checker struct {
	client   *http.Client
	rehoster types.Rehoster
	baseURL  string
}

// NewChecker creates a Checker. baseURL resolves relative media paths;
// rehoster may be nil.
func NewChecker(baseURL string, rehoster types.Rehoster) *Checker {
	return &Checker{
		client:   &http.Client{Timeout: 10 * time.Second},
		rehoster: rehoster,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// EnsureReachable returns a URL the provider can fetch for the given media
// reference. The original URL is probed first; on failure the bytes are
// pulled and rehosted. If rehosting also fails the original URL is
// returned so the send can still be attempted.
func (c *Checker) EnsureReachable(ctx context.Context, mediaURL, contentType string) (string, error) {
	abs, err := c.absoluteURL(mediaURL)
	if err != nil {
		return "", err
	}

	if c.probe(ctx, abs) {
		return abs, nil
	}
	slog.Warn("media not publicly reachable", "url", abs)

	if c.rehoster == nil {
		return abs, nil
	}

	rehosted, err := c.rehost(ctx, abs, contentType)
	if err != nil {
		slog.Error("media rehost failed, sending original url", "url", abs, "error", err)
		return abs, nil
	}
	slog.Info("media rehosted", "from", abs, "to", rehosted)
	return rehosted, nil
}

// absoluteURL resolves a relative media path against the public base URL.
func (c *Checker) absoluteURL(mediaURL string) (string, error) {
	if mediaURL == "" {
		return "", fmt.Errorf("empty media url")
	}
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "", fmt.Errorf("parse media url %q: %w", mediaURL, err)
	}
	if u.IsAbs() {
		return mediaURL, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("relative media url %q with no public base url", mediaURL)
	}
	if !strings.HasPrefix(mediaURL, "/") {
		mediaURL = "/" + mediaURL
	}
	return c.baseURL + mediaURL, nil
}

// probe issues a HEAD request and reports whether the URL answers 2xx.
func (c *Checker) probe(ctx context.Context, absURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, absURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// rehost downloads the media bytes and re-uploads them through the
// configured rehoster.
func (c *Checker) rehost(ctx context.Context, absURL, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRehostBytes+1))
	if err != nil {
		return "", fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxRehostBytes {
		return "", fmt.Errorf("media exceeds %d bytes", maxRehostBytes)
	}
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	return c.rehoster.Reupload(ctx, data, contentType)
}

package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	appLog "matimeline/internal/log"
)

// Fetcher loads ICS payloads from http(s) URLs or local paths. HTTP bodies
// are kept in memory together with their ETag/Last-Modified so that later
// fetches can be conditional and fall back to the last good body.
type Fetcher struct {
	client *retryablehttp.Client

	mu    sync.Mutex
	cache map[string]cachedBody
}

type cachedBody struct {
	body         []byte
	etag         string
	lastModified string
}

// NewFetcher returns a Fetcher whose HTTP attempts time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 2
	c.HTTPClient.Timeout = timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Fetcher{client: c, cache: make(map[string]cachedBody)}
}

// Fetch returns the payload at location, which is either an http(s) URL or
// a file path.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, errors.New("ics location is empty")
	}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return os.ReadFile(location)
	}

	f.mu.Lock()
	cached, hasCache := f.cache[location]
	f.mu.Unlock()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil && resp == nil {
		if hasCache {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(location))
			return cached.body, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[location] = cachedBody{
			body:         body,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		}
		f.mu.Unlock()
		appLog.Info("ics fetch success", "url", redactURL(location), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if !hasCache {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(location))
		return cached.body, nil

	default:
		statusErr := fmt.Errorf("ics fetch: %s", resp.Status)
		if hasCache {
			appLog.Error("ics fetch non-OK, using cached body", statusErr, "url", redactURL(location))
			return cached.body, nil
		}
		return nil, statusErr
	}
}

// redactURL drops query and userinfo, which often carry feed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

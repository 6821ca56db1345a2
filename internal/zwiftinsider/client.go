// Package zwiftinsider fetches and parses route pages of zwiftinsider.com.
package zwiftinsider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	// ErrUnexpectedStatus is returned for any answer other than 200 or 304.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrNoRouteData is returned when the page has neither stats nor an image.
	ErrNoRouteData = errors.New("no route data on page")
)

// DefaultBaseURL is the site the catalog URLs point to.
const DefaultBaseURL = "https://zwiftinsider.com"

const userAgent = "Mozilla/5.0 (compatible; zwiftroutebot/1.0)"

type page struct {
	etag string
	body []byte
}

// Client is a polite HTTP client for the route pages. It remembers ETags and
// bodies per URL and revalidates with If-None-Match.
type Client struct {
	http *http.Client
	base *url.URL
	log  *zap.Logger

	mu    sync.RWMutex
	pages map[string]page
}

// NewClient creates a client. Relative URLs are resolved against baseURL.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		base:  base,
		log:   log,
		pages: make(map[string]page),
	}, nil
}

// Resolve turns a possibly relative reference into an absolute URL.
func (c *Client) Resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// CachedPages returns how many pages have a remembered ETag.
func (c *Client) CachedPages() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}

// document загружает страницу; при 304 отдаёт сохранённое тело
func (c *Client) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	target := c.Resolve(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	c.mu.RLock()
	cached, haveCached := c.pages[target]
	c.mu.RUnlock()
	if haveCached && cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	var body []byte
	switch {
	case resp.StatusCode == http.StatusNotModified && haveCached:
		c.log.Debug("not modified", zap.String("url", target))
		body = cached.body
	case resp.StatusCode == http.StatusOK:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: read body: %w", target, err)
		}
		if et := resp.Header.Get("ETag"); et != "" {
			c.mu.Lock()
			c.pages[target] = page{etag: et, body: body}
			c.mu.Unlock()
		}
	default:
		return nil, fmt.Errorf("fetch %s: %w: %d", target, ErrUnexpectedStatus, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}
	return doc, nil
}

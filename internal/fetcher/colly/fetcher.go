// Package collyfetcher implements the metadata Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pcranston/metainventory/internal/metadata"
)

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	FollowRedirects bool
	MaxBodyBytes    int
}

// Fetcher implements metadata.Fetcher using the Colly collector. One shared
// transport provides connection pooling; each Fetch clones the base collector
// so per-call hooks never leak between requests.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
	)
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and captures headers, cookies, and page
// source. Transport failures surface as *metadata.FetchError; non-2xx
// responses as *metadata.UpstreamStatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (metadata.FetchResult, error) {
	var (
		result   metadata.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(url, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return metadata.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	url string,
	start time.Time,
	result *metadata.FetchResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)
	if !f.cfg.FollowRedirects {
		collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			*fetchErr = &metadata.UpstreamStatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		*result = metadata.FetchResult{
			StatusCode: r.StatusCode,
			Headers:    flattenHeaders(*r.Headers),
			Cookies:    extractCookies(*r.Headers),
			Body:       string(r.Body),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = &metadata.UpstreamStatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		*fetchErr = &metadata.FetchError{URL: url, Err: err}
	})

	return collector
}

// runCollector drives the visit, honoring context cancellation. The shared
// result and error pointers are only read once the visit goroutine finishes.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &metadata.FetchError{URL: url, Err: ctx.Err()}
	case err := <-done:
		// OnError fires before Visit returns; its typed error is more
		// specific than the visit error.
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &metadata.FetchError{URL: url, Err: fmt.Errorf("visit failed: %w", err)}
		}
		return nil
	}
}

// flattenHeaders lowercases header names and keeps the first value of each,
// matching the shape of the persisted headers map.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[0]
	}
	return out
}

// extractCookies parses Set-Cookie headers into a name-to-value map.
func extractCookies(h http.Header) map[string]string {
	resp := http.Response{Header: h}
	cookies := resp.Cookies()
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

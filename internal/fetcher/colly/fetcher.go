// Package collyfetcher implements the fetch capability using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scrapeworks/sift/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Proxy     string
	Timeout   time.Duration
}

// Fetcher implements scrape.Fetcher with a cloned Colly collector per fetch.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher. Robots enforcement happens upstream in the crawl
// policy, so the collector itself ignores robots.txt.
func New(cfg Config) (*Fetcher, error) {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.Proxy != "" {
		if err := c.SetProxy(cfg.Proxy); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}
	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	var (
		result   scrape.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		if request.AuthToken != "" {
			r.Headers.Set("Authorization", "Bearer "+request.AuthToken)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = scrape.FetchResponse{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = classify(request.URL, status, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		// The visit goroutine may still be mutating result; do not touch it.
		return scrape.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Colly surfaces non-2xx statuses through OnError and then again
		// through Visit's return value; the classified error wins.
		if fetchErr != nil {
			return scrape.FetchResponse{}, fetchErr
		}
		if err != nil {
			return scrape.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
		}
		return result, nil
	}
}

// classify sorts fetch failures into transient (worth retrying) and
// permanent. Transport errors without a status are treated as transient.
func classify(url string, status int, err error) error {
	switch {
	case status == 0:
		return &scrape.TransientFetchError{URL: url, Err: err}
	case status == http.StatusForbidden,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &scrape.TransientFetchError{URL: url, Status: status, Err: err}
	default:
		return fmt.Errorf("fetch %s: status %d: %w", url, status, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

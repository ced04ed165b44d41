// Package headless contains fetchers that render JavaScript via a browser.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/scrape"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	Proxy             string
	NavigationTimeout time.Duration
	// WaitForSelector, when set, is awaited best-effort after navigation
	// and interactions; its absence does not fail the fetch.
	WaitForSelector string
	// Interactions are executed in order after the page is ready. Each
	// failed action is retried once before being skipped.
	Interactions []scrape.Interaction
}

// Fetcher implements scrape.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser, runs the scripted interaction
// sequence, and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return scrape.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Propagate the caller's cancellation into the browser task.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, request)
	if err != nil {
		return scrape.FetchResponse{}, &scrape.TransientFetchError{URL: request.URL, Err: err}
	}

	status, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	return scrape.FetchResponse{
		StatusCode: status,
		Body:       []byte(html),
		FinalURL:   responseURL,
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, request scrape.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.interactionsAction(),
		f.waitForSelectorAction(),
		scrollToBottomAction(),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// scrollToBottomAction nudges lazy-loaded content into the DOM before the
// snapshot is taken.
func scrollToBottomAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil).Do(ctx); err != nil {
			return nil // best effort
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
			return nil
		}
	})
}

func (f *Fetcher) networkSetupAction(request scrape.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := toNetworkHeaders(request.Headers)
		if request.AuthToken != "" {
			headers["Authorization"] = "Bearer " + request.AuthToken
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// interactionsAction executes the scripted UI sequence. A failed action is
// retried once; if it fails again the sequence continues without it, so one
// flaky button does not abort the whole fetch.
func (f *Fetcher) interactionsAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, action := range f.cfg.Interactions {
			err := f.runInteraction(ctx, action)
			if err != nil {
				f.logger.Debug("interaction failed, retrying once",
					zap.String("type", string(action.Type)), zap.Error(err))
				err = f.runInteraction(ctx, action)
			}
			if err != nil {
				f.logger.Warn("interaction failed",
					zap.String("type", string(action.Type)),
					zap.String("selector", action.Selector),
					zap.Error(err))
			}
		}
		return nil
	})
}

func (f *Fetcher) runInteraction(ctx context.Context, action scrape.Interaction) error {
	actionCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch action.Type {
	case scrape.InteractionWait:
		d := time.Duration(action.DurationMs) * time.Millisecond
		if d <= 0 {
			d = time.Second
		}
		return chromedp.Sleep(d).Do(ctx)
	case scrape.InteractionScroll:
		if err := chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil).Do(actionCtx); err != nil {
			return err
		}
		return chromedp.Sleep(500 * time.Millisecond).Do(ctx)
	case scrape.InteractionClick:
		return chromedp.Click(action.Selector, chromedp.ByQuery).Do(actionCtx)
	case scrape.InteractionFill:
		return chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery).Do(actionCtx)
	case scrape.InteractionPress:
		key := action.Value
		if key == "" {
			key = "\r"
		}
		return chromedp.SendKeys(action.Selector, key, chromedp.ByQuery).Do(actionCtx)
	default:
		return fmt.Errorf("unknown interaction type %q", action.Type)
	}
}

func (f *Fetcher) waitForSelectorAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.WaitForSelector == "" {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := chromedp.WaitVisible(f.cfg.WaitForSelector, chromedp.ByQuery).Do(waitCtx); err != nil {
			f.logger.Debug("wait_for_selector did not appear",
				zap.String("selector", f.cfg.WaitForSelector), zap.Error(err))
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

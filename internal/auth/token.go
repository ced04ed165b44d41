// Package auth manages a shared bearer token for authenticated sources. One
// Manager holds one token; workers read it through Token, which refreshes
// ahead of expiry. The mutex makes refresh a mutually-exclusive critical
// section, so concurrent callers observe a single refresh in flight.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/scrape"
)

const defaultTokenTTL = time.Hour

// Manager acquires and refreshes one bearer token.
type Manager struct {
	mu        sync.Mutex
	client    *http.Client
	tokenURL  string
	form      url.Values
	margin    time.Duration
	clock     scrape.Clock
	logger    *zap.Logger
	token     string
	expiresAt time.Time
	refreshes int64
}

// NewManager builds a Manager from the job's auth settings. client may be nil,
// in which case a default client with a 15s timeout is used.
func NewManager(cfg scrape.Auth, client *http.Client, clock scrape.Clock, logger *zap.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = scrape.DefaultRefreshMargin
	}
	form := make(url.Values, len(cfg.Form))
	for k, v := range cfg.Form {
		form.Set(k, v)
	}
	return &Manager{
		client:   client,
		tokenURL: cfg.TokenURL,
		form:     form,
		margin:   margin,
		clock:    clock,
		logger:   logger,
	}
}

// Token returns a currently-valid bearer token, refreshing first when the
// stored one is within the refresh margin of its expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.clock.Now().Before(m.expiresAt.Add(-m.margin)) {
		return m.token, nil
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", &scrape.AuthError{Err: err}
	}
	return m.token, nil
}

// Refreshes returns how many refresh requests have completed successfully.
func (m *Manager) Refreshes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(m.form.Encode()))
	if err != nil {
		return fmt.Errorf("new token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			m.logger.Debug("Failed to close token response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return fmt.Errorf("token endpoint returned empty access_token")
	}

	ttl := defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	m.token = parsed.AccessToken
	m.expiresAt = m.clock.Now().Add(ttl)
	m.refreshes++
	m.logger.Debug("refreshed bearer token", zap.Time("expires_at", m.expiresAt))
	return nil
}

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeworks/sift/internal/scrape"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTokenServer(t *testing.T, calls *atomic.Int64, expiresIn int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "svc", r.PostForm.Get("client_id"))
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":%d}`, n, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(srv *httptest.Server, clock scrape.Clock) *Manager {
	cfg := scrape.Auth{
		TokenURL:      srv.URL,
		Form:          map[string]string{"client_id": "svc", "client_secret": "hunter2"},
		RefreshMargin: 60 * time.Second,
	}
	return NewManager(cfg, srv.Client(), clock, nil)
}

func TestTokenRefreshesOnceAndCaches(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, 3600)
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(srv, clock)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Well inside the validity window: no second request.
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenRefreshesInsideMargin(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, 120)
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(srv, clock)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	// 70s into a 120s token with a 60s margin: must refresh.
	clock.Advance(70 * time.Second)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), calls.Load())
}

func TestTokenSingleRefreshUnderConcurrency(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, 3600)
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(srv, clock)

	const workers = 20
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.Equal(t, int64(1), calls.Load(), "concurrent callers must observe a single refresh")
}

func TestTokenSurfacesEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := scrape.Auth{TokenURL: srv.URL, RefreshMargin: time.Minute}
	m := NewManager(cfg, srv.Client(), &fakeClock{now: time.Now()}, nil)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	var authErr *scrape.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, int64(0), m.Refreshes())
}

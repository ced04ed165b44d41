package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeworks/sift/internal/scrape"
)

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(Config{UserAgent: "sift-test", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := newFetcher(t)
	resp, err := f.Fetch(context.Background(), scrape.FetchRequest{
		URL:       srv.URL + "/page",
		Headers:   http.Header{"X-Trace": {"yes"}},
		AuthToken: "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "ok")
	assert.Equal(t, srv.URL+"/page", resp.FinalURL)
	assert.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchClassifiesTransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		f := newFetcher(t)
		_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
		require.Error(t, err, "status %d", status)
		assert.True(t, scrape.IsTransient(err), "status %d should be transient", status)

		var tErr *scrape.TransientFetchError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, status, tErr.Status)
		srv.Close()
	}
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFetcher(t)
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.False(t, scrape.IsTransient(err))
}

func TestFetchConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	f := newFetcher(t)
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, scrape.IsTransient(err))
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := newFetcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

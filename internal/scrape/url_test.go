package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keeps explicit port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"sorts query parameters", "https://example.com/a?z=1&a=2", "https://example.com/a?a=2&z=1"},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	once, err := NormalizeURL("HTTPS://Example.com:443/a?z=1&a=2#frag")
	require.NoError(t, err)
	twice, err := NormalizeURL(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	for _, in := range []string{"", "/path/only", "example.com/a", "::bad::url::"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, in)
	}
}

func TestResolveRef(t *testing.T) {
	cases := []struct {
		name string
		base string
		href string
		want string
	}{
		{"relative path", "https://example.com/list/", "item/1", "https://example.com/list/item/1"},
		{"absolute path", "https://example.com/list/page2", "/item/1", "https://example.com/item/1"},
		{"absolute url", "https://example.com/list", "https://other.test/x", "https://other.test/x"},
		{"protocol relative", "https://example.com/list", "//cdn.test/asset", "https://cdn.test/asset"},
		{"fragment collapses to base", "https://example.com/list", "#top", "https://example.com/list"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveRef(tc.base, tc.href)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

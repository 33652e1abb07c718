package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://a.com/x?q=1", "https://a.com/x"},
		{"https://a.com/x#section", "https://a.com/x"},
		{"https://a.com/x?q=1#frag", "https://a.com/x"},
		{"https://a.com/", "https://a.com/"},
		{"https://a.com", "https://a.com/"},
		{"HTTPS://Docs.Example.COM/Path", "https://docs.example.com/Path"},
		{"http://user:pw@a.com:8080/p", "http://a.com:8080/p"},
	}
	for _, tc := range tests {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, "normalize %s", tc.in)
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	for _, in := range []string{"", "   ", "not-a-url", "/just/a/path"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.example.com/page", "www.example.com"},
		{"http://blog.test.org/post/123", "blog.test.org"},
		{"https://Example.com:8443", "example.com"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, ExtractDomain(tc.url), "domain for %s", tc.url)
	}
}

func TestIsTrackable(t *testing.T) {
	assert.True(t, IsTrackable("https://a.com/x"))
	assert.True(t, IsTrackable("http://localhost:3000/"))
	assert.False(t, IsTrackable("chrome://newtab/"))
	assert.False(t, IsTrackable("about:blank"))
	assert.False(t, IsTrackable("chrome-extension://abc/popup.html"))
}

func TestDomainMatches(t *testing.T) {
	assert.True(t, domainMatches("chase.com", "chase.com"))
	assert.True(t, domainMatches("secure.chase.com", "chase.com"))
	assert.False(t, domainMatches("notchase.com", "chase.com"))
}

package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL reduces a URL to its page identity key: scheme, host and path.
// Query string, fragment and credentials are dropped, scheme and host are
// lowercased, and an empty path becomes "/".
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("normalize url: empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("normalize url: %q has no scheme or host", rawURL)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path, nil
}

// ExtractDomain pulls the hostname from a URL string.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsTrackable reports whether engaged time on rawURL should be measured.
// Browser-internal pages (chrome://, about:, extension pages) are not.
func IsTrackable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	}
	return false
}

// domainMatches reports whether domain equals rule or is a subdomain of it.
func domainMatches(domain, rule string) bool {
	rule = strings.ToLower(strings.TrimPrefix(rule, "."))
	return domain == rule || strings.HasSuffix(domain, "."+rule)
}

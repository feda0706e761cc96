package parse

import (
	"net/url"
	"strings"
)

// ResolveURL resolves href against base using RFC 3986 reference resolution.
// Absolute hrefs come back unchanged, relative ones are made absolute against base.
// It never fails: when either side cannot be parsed, the trimmed href is returned as-is
// and is left to the scope check and the fetcher to reject.
// No other normalization is applied; the result is the frontier's identity for the URL.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

package handler

import "strings"

// DomainOf returns the host part of a URL: everything after the first "//"
// up to the next "/". The port, if any, is kept. Malformed input yields a
// best-effort substring. It reports false for an empty URL.
func DomainOf(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	if _, rest, ok := strings.Cut(url, "//"); ok {
		url = rest
	}
	host, _, _ := strings.Cut(url, "/")
	return host, true
}

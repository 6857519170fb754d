package common

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var markdownLink = regexp.MustCompile(`^\[.*?\]\((https?://[^\)]+)\)$`)

// SanitizeURL cleans up copy-paste noise around a URL flag value:
// whitespace, markdown links and stray wrapping punctuation.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	if m := markdownLink.FindStringSubmatch(cleaned); len(m) > 1 {
		cleaned = m[1]
	}

	cleaned = strings.TrimRight(cleaned, ",.)}]\"'>;")
	cleaned = strings.TrimLeft(cleaned, "([<\"'")

	return strings.TrimSpace(cleaned)
}

// ParseHTTPURL sanitizes rawURL and requires an absolute http(s) URL.
func ParseHTTPURL(rawURL string) (*url.URL, error) {
	cleaned := SanitizeURL(rawURL)
	if cleaned == "" {
		return nil, fmt.Errorf("empty URL %q", rawURL)
	}
	if strings.Contains(cleaned, " ") {
		return nil, fmt.Errorf("URL %q contains spaces (encode them as %%20)", rawURL)
	}

	u, err := url.Parse(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL %q must use http or https", rawURL)
	}
	if u.Host == "" || strings.ContainsAny(u.Host, "{}[]<>\"'") {
		return nil, fmt.Errorf("URL %q has no valid host", rawURL)
	}
	return u, nil
}

package utils

import (
	"net/url"
	"strings"
)

// ToAbsoluteURL converts a relative URL to an absolute URL given a base URL.
func ToAbsoluteURL(base *url.URL, relative string) (string, error) {
	relURL, err := url.Parse(strings.TrimSpace(relative))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(relURL).String(), nil
}

// ReplaceHost swaps the host of rawURL when it equals from. Other URLs are returned unchanged.
func ReplaceHost(rawURL, from, to string) string {
	if from == "" || to == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != from {
		return rawURL
	}
	u.Host = to
	return u.String()
}

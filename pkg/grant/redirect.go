package grant

import (
	"net/url"
	"slices"
	"strings"
)

// NormalizeRedirectURI strips trailing slashes so "http://localhost/" and "http://localhost"
// compare equal.
func NormalizeRedirectURI(uri string) string {
	return strings.TrimRight(strings.TrimSpace(uri), "/")
}

func isAbsoluteURI(uri string) bool {
	u, err := url.Parse(uri)
	return err == nil && u.IsAbs() && u.Host != ""
}

// redirectURIAllowed reports whether uri matches any entry of allowed after normalization.
func redirectURIAllowed(uri string, allowed []string) bool {
	normalized := NormalizeRedirectURI(uri)
	return slices.ContainsFunc(allowed, func(a string) bool {
		return NormalizeRedirectURI(a) == normalized
	})
}

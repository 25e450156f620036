package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL normalizes a posting URL into its uniqueness key. Query string
// and fragment are dropped (listing links carry tracking parameters), the
// scheme and host are lower-cased and a trailing slash is removed.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError("source_url", raw, ErrInvalidPosting)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError("source_url", raw, fmt.Errorf("%w: %v", ErrInvalidPosting, err))
	}
	if u.Scheme == "" || u.Host == "" {
		return "", NewValidationError("source_url", raw, ErrInvalidPosting)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

package models

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/use-agent/harvest/apperr"
)

// ValidateTargetURL rejects URLs that are not absolute http(s) or that point
// at internal infrastructure (SSRF guard). It is a pure function: no DNS
// resolution is performed, only literal inspection, so a hostile hostname
// that resolves to a private address is caught later by the fetcher's
// network policy rather than here.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.New(apperr.KindValidation, "invalid URL", err).
			WithDetails(fmt.Sprintf("url %q does not parse", raw))
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.New(apperr.KindValidation, "invalid URL scheme", nil).
			WithDetails(fmt.Sprintf("scheme %q is not allowed; use http or https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return apperr.New(apperr.KindValidation, "invalid URL", nil).
			WithDetails("url has no host")
	}

	if isBlockedHost(host) {
		return apperr.New(apperr.KindValidation, "URL blocked", nil).
			WithDetails(fmt.Sprintf("host %q points at internal infrastructure", host))
	}

	return nil
}

// isBlockedHost flags loopback/private/link-local targets and well-known
// internal hostnames.
func isBlockedHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") ||
		strings.HasSuffix(lower, ".internal") || strings.HasSuffix(lower, ".local") {
		return true
	}

	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || // covers 169.254.169.254 metadata endpoints
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

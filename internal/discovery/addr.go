// Package discovery locates a NetSync server on the local network: a
// UDP broadcast probe where the platform allows it, with a TCP subnet
// scan fallback seeded by the last known server addresses.
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeServerHost accepts the forms a user pastes into configuration
// — bare host, host:port, bracketed or raw IPv6, styly:// links, and
// http(s) URLs — and returns just the host for transport dialing (ports
// are configured separately).
func NormalizeServerHost(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("server address is required")
	}

	if strings.HasPrefix(s, "styly://") {
		s = strings.TrimPrefix(s, "styly://")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid server address: %w", err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid server address: missing host")
		}
		s = u.Host
	}

	// Ignore accidental trailing slashes/paths in manual input.
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("invalid server address: missing host")
	}

	if h, _, err := net.SplitHostPort(s); err == nil {
		return h, nil
	}

	// Raw IPv6 (without brackets): host as-is.
	if ip := net.ParseIP(s); ip != nil {
		return s, nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
		if inner == "" {
			return "", fmt.Errorf("invalid server address: missing host")
		}
		return inner, nil
	}
	if strings.Contains(s, ":") {
		// Looks like host:port but split failed.
		return "", fmt.Errorf("invalid server address: %q", raw)
	}
	return s, nil
}

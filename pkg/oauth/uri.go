// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"net"
	"net/url"
)

// IsLoopbackHost reports whether host is a loopback address per RFC 8252
// Section 7.3 (localhost, 127.0.0.1/8, ::1).
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ValidateEndpointURI checks that raw is an absolute HTTPS URI without a
// fragment. HTTP is permitted only for loopback hosts when allowLoopbackHTTP
// is set, per RFC 8252 for native clients.
func ValidateEndpointURI(raw string, allowLoopbackHTTP bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URI %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("URI %q must be absolute", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("URI %q must not contain a fragment", raw)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowLoopbackHTTP && IsLoopbackHost(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("URI %q uses http outside the loopback interface", raw)
	default:
		return fmt.Errorf("URI %q uses unsupported scheme %q", raw, u.Scheme)
	}
}

// Origin returns the scheme://host[:port] origin of a URI, used for
// deduplicating frame sources and building CSP directives.
func Origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URI %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URI %q has no origin", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

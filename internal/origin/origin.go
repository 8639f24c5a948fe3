// Package origin validates browser Origin headers against an allowlist.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Null is the opaque origin browsers send from sandboxed or file:// pages.
const Null = "null"

// Normalize validates an Origin header and returns scheme://host[:port] plus
// the host[:port] part. Default ports are dropped, hosts are lowercased and
// IPv6 literals keep their brackets. "null" is accepted and returned as-is
// with an empty host.
func Normalize(header string) (normalized, host string, ok bool) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return "", "", false
	}
	if raw == Null {
		return Null, "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" || u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether a normalized origin may reach requestHost. With an
// empty allowlist only the request's own host:port is allowed; the scheme is
// ignored there since TLS is often terminated in front of the server.
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, a := range allowlist {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}
	if originHost == "" {
		return false
	}
	scheme, _, _ := strings.Cut(normalized, "://")
	reqHost, ok := normalizeHost(requestHost, scheme)
	return ok && reqHost == originHost
}

func normalizeHost(authority, scheme string) (string, bool) {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if authority == "" {
		return "", false
	}

	hostname, port := authority, ""
	if strings.HasPrefix(authority, "[") || strings.Count(authority, ":") == 1 {
		if h, p, err := net.SplitHostPort(authority); err == nil {
			hostname, port = h, p
		} else if !strings.HasPrefix(authority, "[") || !strings.HasSuffix(authority, "]") {
			return "", false
		} else {
			hostname = authority[1 : len(authority)-1]
		}
	} else if strings.Contains(authority, ":") {
		// Bare IPv6 is not a valid authority.
		return "", false
	}
	if hostname == "" || strings.ContainsAny(hostname, "/?#@ ") {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, true
	}
	return hostname, true
}

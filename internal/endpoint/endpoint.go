// Package endpoint parses the listen address and public URL a session binds
// with.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultListen = "0.0.0.0:5659"
	DefaultPublic = "http://127.0.0.1:5659"
)

var (
	ErrInvalidListen = errors.New("invalid listen address")
	ErrInvalidPublic = errors.New("invalid public url")
)

// ParseListen parses an "ip:port" socket address. Host names are rejected.
func ParseListen(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w %q: %w", ErrInvalidListen, s, err)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// ParsePublicURL validates the URL peers are told to reach. It may carry at
// most one path segment and no query or fragment.
func ParsePublicURL(s string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPublic, s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w %q: scheme and host are required", ErrInvalidPublic, s)
	}
	if segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/"); len(segments) > 1 {
		return nil, fmt.Errorf("%w %q: must not include a path", ErrInvalidPublic, s)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return nil, fmt.Errorf("%w %q: must not include a query string", ErrInvalidPublic, s)
	}
	if u.Fragment != "" || u.RawFragment != "" || strings.Contains(s, "#") {
		return nil, fmt.Errorf("%w %q: must not include a fragment", ErrInvalidPublic, s)
	}
	return u, nil
}

// Resolver is the subset of *net.Resolver used by ResolvePublic.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolvePublic turns u into a socket address: the first address the host
// resolves to, with the URL's port or the scheme default (http=80,
// https=443). A nil resolver uses net.DefaultResolver.
func ResolvePublic(ctx context.Context, r Resolver, u *url.URL) (netip.AddrPort, error) {
	if r == nil {
		r = net.DefaultResolver
	}

	port, err := publicPort(u)
	if err != nil {
		return netip.AddrPort{}, err
	}

	host := u.Hostname()
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), port), nil
	}

	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: resolve %q: %w", ErrInvalidPublic, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: %q resolved to no addresses", ErrInvalidPublic, host)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), port), nil
}

// ParsePublic is ParsePublicURL followed by ResolvePublic.
func ParsePublic(ctx context.Context, r Resolver, s string) (netip.AddrPort, error) {
	u, err := ParsePublicURL(s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return ResolvePublic(ctx, r, u)
}

func publicPort(u *url.URL) (uint16, error) {
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: port %q: %w", ErrInvalidPublic, p, err)
		}
		return uint16(n), nil
	}
	switch u.Scheme {
	case "http":
		return 80, nil
	case "https":
		return 443, nil
	default:
		return 0, fmt.Errorf("%w: no port and no default port for scheme %q", ErrInvalidPublic, u.Scheme)
	}
}

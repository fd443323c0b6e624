// Package security restricts where outbound gateway traffic may connect.
//
// The gateway base URL is configuration, so a bad value could point the
// service's credentials at cloud metadata or an internal host. The egress
// transport resolves every destination and refuses private, loopback and
// link-local addresses before dialing.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"
)

const dnsTimeout = time.Second

// ErrBlockedAddress is returned when a destination resolves into a blocked
// range.
var ErrBlockedAddress = errors.New("egress: destination address is blocked")

// ErrResolve is returned when the destination cannot be resolved in time.
var ErrResolve = errors.New("egress: destination could not be resolved")

// BlockedPrefixes are the ranges no gateway call may reach.
var BlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Resolver is the subset of *net.Resolver the transport needs.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// EgressGuard dials only destinations outside BlockedPrefixes.
type EgressGuard struct {
	Resolver Resolver
	Dialer   *net.Dialer
}

// Blocked reports whether addr falls in a blocked range. IPv4-mapped IPv6
// addresses are checked as IPv4.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range BlockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DialContext resolves addr, rejects it if any resolved address is blocked
// and dials the first one. Checking every address stops a hostname from
// mixing a public answer with a private one.
func (g *EgressGuard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid address %q: %w", addr, err)
	}

	ips, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if Blocked(ip) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, ip)
		}
	}

	dialer := g.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 5 * time.Second}
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

func (g *EgressGuard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrResolve, host)
	}
	return ips, nil
}

// NewGatewayClient returns an http.Client whose connections go through an
// EgressGuard. Redirects are refused; the gateway API never redirects.
func NewGatewayClient(timeout time.Duration, resolver Resolver) *http.Client {
	guard := &EgressGuard{Resolver: resolver}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = guard.DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

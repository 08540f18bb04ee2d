package security

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NetGuard validates plugin-initiated network destinations.
type NetGuard struct {
	resolver Resolver
}

// NewNetGuard creates a guard. A nil resolver uses net.DefaultResolver.
func NewNetGuard(r Resolver) *NetGuard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &NetGuard{resolver: r}
}

// Check parses rawURL and rejects it unless it is an http(s) URL whose host
// resolves only to public addresses.
func (g *NetGuard) Check(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &BlockedError{URL: rawURL, Reason: "malformed URL"}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, &BlockedError{URL: rawURL, Reason: fmt.Sprintf("scheme %q is not allowed", u.Scheme)}
	}
	if u.User != nil {
		return nil, &BlockedError{URL: rawURL, Reason: "credentials in URL are not allowed"}
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, &BlockedError{URL: rawURL, Reason: "missing host"}
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, &BlockedError{URL: rawURL, Reason: "localhost is not allowed"}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if reason, blocked := BlockedAddr(addr); blocked {
			return nil, &BlockedError{URL: rawURL, Reason: reason}
		}
		return u, nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &BlockedError{URL: rawURL, Reason: "host does not resolve: " + err.Error()}
	}
	if len(addrs) == 0 {
		return nil, &BlockedError{URL: rawURL, Reason: "host does not resolve"}
	}
	for _, ia := range addrs {
		addr, ok := netip.AddrFromSlice(ia.IP)
		if !ok {
			return nil, &BlockedError{URL: rawURL, Reason: "invalid resolved address"}
		}
		if reason, blocked := BlockedAddr(addr); blocked {
			return nil, &BlockedError{URL: rawURL, Reason: host + " resolves to " + reason}
		}
	}
	return u, nil
}

// BlockedAddr reports whether addr is a non-public destination.
func BlockedAddr(addr netip.Addr) (string, bool) {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid():
		return "invalid address", true
	case addr.IsLoopback():
		return "loopback address " + addr.String(), true
	case addr.IsPrivate():
		return "private address " + addr.String(), true
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local address " + addr.String(), true
	case addr.IsUnspecified():
		return "unspecified address " + addr.String(), true
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return "multicast address " + addr.String(), true
	case addr.Is4() && addr.As4()[0] == 0:
		return "reserved address " + addr.String(), true
	case addr.Is4() && addr.As4()[0] == 100 && addr.As4()[1]&0xc0 == 64:
		return "shared address " + addr.String(), true
	}
	return "", false
}

// DialContext dials like net.Dialer but refuses connections to blocked
// addresses, covering DNS answers that changed after Check.
func (g *NetGuard) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout: 15 * time.Second,
		Control: func(_, addr string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(addr)
			if err != nil {
				return &BlockedError{URL: addr, Reason: "unparseable dial address"}
			}
			if reason, blocked := BlockedAddr(ap.Addr()); blocked {
				return &BlockedError{URL: addr, Reason: reason}
			}
			return nil
		},
	}
	return d.DialContext(ctx, network, address)
}

// Package clientip derives the client address of an HTTP request.
//
// The connection peer is authoritative. X-Forwarded-For and X-Real-IP are
// consulted only when the peer belongs to a trusted proxy range, and the
// forwarded chain is walked right to left so a client cannot prepend a
// spoofed hop.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Resolver maps requests to client addresses.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver trusts forwarding headers from peers inside any of trusted.
func NewResolver(trusted []netip.Prefix) *Resolver {
	return &Resolver{trusted: trusted}
}

// Address returns the canonical client address for r, or "" when the peer
// address cannot be parsed.
func (res *Resolver) Address(r *http.Request) string {
	peer, ok := parseHost(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !res.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseHost(strings.TrimSpace(hops[i]))
			if !ok {
				break
			}
			if !res.isTrusted(hop) {
				return hop.String()
			}
		}
	}

	if xri, ok := parseHost(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return xri.String()
	}

	return peer.String()
}

func (res *Resolver) isTrusted(addr netip.Addr) bool {
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseHost accepts "ip", "ip:port" and "[ipv6]:port". IPv4-mapped IPv6
// addresses are unmapped so one client has one spelling.
func parseHost(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().WithZone(""), true
	}
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

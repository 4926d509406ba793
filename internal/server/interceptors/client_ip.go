package interceptors

import (
	"net/http"
	"net/netip"
	"strings"
)

// IPResolver picks the client address of an HTTP request. X-Forwarded-For and X-Real-Ip are
// honored only when the connecting peer is one of the trusted proxies; otherwise the peer address
// is the client.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver returns a resolver that trusts forwarding headers from peers inside trusted.
// A nil or empty list trusts nobody.
func NewIPResolver(trusted []netip.Prefix) *IPResolver {
	return &IPResolver{trusted: trusted}
}

// Resolve returns the client IP of r. Behind trusted proxies the X-Forwarded-For chain is walked
// from the right and the first hop that is not a trusted proxy wins, since only the entries
// appended by our own proxies can be relied on.
func (res *IPResolver) Resolve(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)
	if peer == "" {
		return "unknown"
	}
	if res == nil || !res.isTrusted(peer) {
		return peer
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !res.isTrusted(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	return peer
}

func (res *IPResolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

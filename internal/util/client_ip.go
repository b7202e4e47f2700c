package util

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of peers whose forwarded headers are believed.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses CIDR or bare-IP entries. Nil is returned for an
// empty list, which ClientIP treats as "trust no proxy".
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var nets []*net.IPNet
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, err
			}
			nets = append(nets, cidr)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, &net.ParseError{Type: "IP address", Text: entry}
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &TrustedProxies{nets: nets}, nil
}

// Contains reports whether ip falls inside any trusted range.
func (t *TrustedProxies) Contains(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the originating client address. X-Forwarded-For and
// X-Real-IP are honored only when the direct peer is a trusted proxy; the
// forwarded chain is walked right to left until the first untrusted hop.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer := parseHostIP(r.RemoteAddr)
	if peer == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	if hops := forwardedChain(r.Header.Get("X-Forwarded-For")); len(hops) > 0 {
		chain := append(hops, peer)
		for i := len(chain) - 1; i >= 0; i-- {
			if !trusted.Contains(chain[i]) {
				return chain[i].String()
			}
		}
		return chain[0].String()
	}
	if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != nil {
		return realIP.String()
	}
	return peer.String()
}

func forwardedChain(raw string) []net.IP {
	var out []net.IP
	for _, part := range strings.Split(raw, ",") {
		if ip := parseIP(part); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

func parseHostIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	return net.ParseIP(strings.TrimSpace(raw))
}

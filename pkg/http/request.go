package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// IPConfig holds the proxies whose forwarding headers are believed
type IPConfig struct {
	trusted []netip.Prefix
}

// NewIPConfig parses trusted proxy ranges. Bare addresses are taken as single-host prefixes.
func NewIPConfig(trustedProxies []string) (*IPConfig, error) {
	cfg := &IPConfig{trusted: make([]netip.Prefix, 0, len(trustedProxies))}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			cfg.trusted = append(cfg.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		cfg.trusted = append(cfg.trusted, prefix.Masked())
	}
	return cfg, nil
}

func (c *IPConfig) trusts(addr netip.Addr) bool {
	if c == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the address lockout and session checks are keyed on.
// Forwarding headers are only read when the peer is a trusted proxy. X-Forwarded-For
// is walked from the right so a client cannot prepend a spoofed hop.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)
	peer, err := netip.ParseAddr(remote)
	if err != nil || !config.trusts(peer) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		leftmost := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				continue
			}
			leftmost = hop.Unmap().String()
			if !config.trusts(hop) {
				return leftmost
			}
		}
		// every hop is a proxy
		if leftmost != "" {
			return leftmost
		}
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}

	return remote
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// MaxClientSignatureLen caps the stored client signature
const MaxClientSignatureLen = 512

// ClientSignature returns the User-Agent of the request, trimmed and capped.
// It is compared verbatim to recognise same-device retries, so no normalisation beyond trimming is applied.
func ClientSignature(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if ua == "" {
		return "unknown"
	}
	if len(ua) > MaxClientSignatureLen {
		cut := MaxClientSignatureLen
		for cut > 0 && !utf8.RuneStart(ua[cut]) {
			cut--
		}
		ua = ua[:cut]
	}
	return ua
}

// Package httputil holds small request helpers shared by HTTP middleware.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address of the client that sent r.
//
// With trustProxy set, the leftmost valid address in X-Forwarded-For wins,
// then X-Real-IP. Header values that do not parse as an IP are ignored, so a
// client cannot inject arbitrary strings into logs. Only enable trustProxy
// behind a reverse proxy that overwrites these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip, ok := parseIP(candidate); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

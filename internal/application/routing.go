package application

import (
	"net/url"
	"strings"
)

// APIMatcher decides whether a request targets the risk API origin. A request
// matches when its hostname is listed or when it names one of the ports
// explicitly.
type APIMatcher struct {
	Hosts []string
	Ports []string
}

// Matches reports whether u points at the API origin.
func (m APIMatcher) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := u.Hostname()
	for _, h := range m.Hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	port := u.Port()
	if port == "" {
		return false
	}
	for _, p := range m.Ports {
		if p == port {
			return true
		}
	}
	return false
}

// sameOrigin compares scheme, host and effective port.
func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return "443"
	default:
		return "80"
	}
}

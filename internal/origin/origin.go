// Package origin implements the browser Origin policy applied to signaling
// WebSocket upgrades and the relay's HTTP API.
package origin

import (
	"fmt"
	"net/url"
	"strings"
)

// Policy decides which browser origins may talk to the relay.
//
// With an empty allowlist only same-host origins are accepted. Requests without
// an Origin header (non-browser clients) are always accepted.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from allowlist entries. Each entry must be "*",
// "null", or an origin of the form scheme://host[:port].
func NewPolicy(allowedOrigins []string) (Policy, error) {
	p := Policy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, raw := range allowedOrigins {
		entry := strings.TrimSpace(raw)
		switch entry {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		normalized, _, ok := Normalize(entry)
		if !ok {
			return Policy{}, fmt.Errorf("invalid allowed origin %q", raw)
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// Allow reports whether a request carrying originHeader and addressed to
// requestHost (the HTTP Host header) is permitted.
func (p Policy) Allow(originHeader, requestHost string) bool {
	originHeader = strings.TrimSpace(originHeader)
	if originHeader == "" {
		return true
	}
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return ok
	}
	if host == "" {
		return false
	}
	// The scheme is not compared: a TLS-terminating proxy in front of the relay
	// makes https origins arrive over plain http.
	reqHost, ok := canonicalHost("", requestHost)
	return ok && stripDefaultPort(host) == stripDefaultPort(reqHost)
}

// Normalize validates a browser Origin value and returns it as
// scheme://host[:port] (lower-cased, default port removed) together with its
// host[:port] part. The opaque origin "null" is returned unchanged with an
// empty host.
func Normalize(raw string) (normalized, host string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "null" {
		return "null", "", true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(scheme, u.Host)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// canonicalHost lower-cases an authority and drops the port when it is the
// default for scheme. An empty scheme keeps every port.
func canonicalHost(scheme, authority string) (string, bool) {
	u, err := url.Parse("//" + authority)
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname, true
	}
	return hostname + ":" + port, true
}

// stripDefaultPort treats host, host:80 and host:443 as the same host for the
// same-host comparison.
func stripDefaultPort(host string) string {
	for _, suffix := range []string{":80", ":443"} {
		if strings.HasSuffix(host, suffix) {
			return strings.TrimSuffix(host, suffix)
		}
	}
	return host
}

// Package netutil provides shared host/address normalization helpers.
package netutil

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// IsIPLiteral reports whether the host part of raw (port stripped) is a
// literal IPv4 or IPv6 address.
func IsIPLiteral(raw string) bool {
	host := NormalizeHost(raw)
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i] // zone
	}
	return host != "" && net.ParseIP(host) != nil
}

// HostAuthority returns raw in a form usable as a URL authority: a bare IPv6
// address gets brackets, anything else is returned trimmed.
func HostAuthority(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(raw); err == nil {
		return raw
	}
	if strings.Count(raw, ":") > 1 && !strings.HasPrefix(raw, "[") {
		return "[" + raw + "]"
	}
	return raw
}

// DialAddress returns host:port for raw, using defaultPort when raw carries
// no port of its own.
func DialAddress(raw string, defaultPort int) string {
	raw = strings.TrimSpace(raw)
	if h, p, err := net.SplitHostPort(raw); err == nil && p != "" {
		return net.JoinHostPort(h, p)
	}
	return net.JoinHostPort(strings.Trim(raw, "[]"), strconv.Itoa(defaultPort))
}

// RemoteIP extracts the peer IP of an HTTP request from RemoteAddr.
// Forwarding headers are ignored; the admin API trusts the socket peer only.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return NormalizeHost(r.RemoteAddr)
	}
	return NormalizeHost(host)
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

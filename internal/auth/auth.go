// Package auth decides who may drive the admin API: peers from trusted
// networks, or callers presenting the master key as a bearer token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedNets is a parsed list of trusted addresses and networks.
type TrustedNets struct {
	nets []*net.IPNet
}

// ParseTrusted parses entries that are either bare IPs or CIDR blocks.
func ParseTrusted(entries []string) (TrustedNets, error) {
	var t TrustedNets
	for _, raw := range entries {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if ip := net.ParseIP(v); ip != nil {
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			t.nets = append(t.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return TrustedNets{}, fmt.Errorf("trusted ip %q: %w", v, err)
		}
		t.nets = append(t.nets, n)
	}
	return t, nil
}

// Contains reports whether ip falls in any trusted network.
func (t TrustedNets) Contains(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	if ip4 := parsed.To4(); ip4 != nil {
		parsed = ip4
	}
	for _, n := range t.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token, token != ""
}

// KeyEquals compares a presented key with the configured one in constant
// time. An empty configured key never matches.
func KeyEquals(presented, configured string) bool {
	if configured == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

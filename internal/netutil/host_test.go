package netutil

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM:443":      "example.com",
		" example.com. ":       "example.com",
		"[2001:db8::1]:8443":   "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"localhost:10443":      "localhost",
		"sub.test.EXAMPLE.com": "sub.test.example.com",
	}

	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestIsIPLiteral(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"203.0.113.5":        true,
		"203.0.113.5:8080":   true,
		"2001:db8::1":        true,
		"[2001:db8::1]:8443": true,
		"fe80::1%eth0":       true,
		"relay.example.com":  false,
		"localhost:8080":     false,
		"":                   false,
	}
	for in, want := range tests {
		if got := IsIPLiteral(in); got != want {
			t.Fatalf("IsIPLiteral(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestHostAuthority(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"relay.example.com":  "relay.example.com",
		"203.0.113.5:8080":   "203.0.113.5:8080",
		"2001:db8::1":        "[2001:db8::1]",
		"[2001:db8::1]:8443": "[2001:db8::1]:8443",
	}
	for in, want := range tests {
		if got := HostAuthority(in); got != want {
			t.Fatalf("HostAuthority(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestDialAddress(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"relay.example.com":      "relay.example.com:22",
		"relay.example.com:2222": "relay.example.com:2222",
		"203.0.113.5":            "203.0.113.5:22",
		"2001:db8::1":            "[2001:db8::1]:22",
		"[2001:db8::1]":          "[2001:db8::1]:22",
	}
	for in, want := range tests {
		if got := DialAddress(in, 22); got != want {
			t.Fatalf("DialAddress(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::1]:51234"
	if got := RemoteIP(r); got != "::1" {
		t.Fatalf("expected ::1, got %q", got)
	}
	r.RemoteAddr = "127.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	if got := RemoteIP(r); got != "127.0.0.1" {
		t.Fatalf("expected socket peer 127.0.0.1, got %q", got)
	}
}

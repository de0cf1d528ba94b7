package auth

import (
	"net/http/httptest"
	"testing"
)

func TestTrustedNetsContains(t *testing.T) {
	t.Parallel()
	nets, err := ParseTrusted([]string{"127.0.0.1", "10.0.0.0/8", " ::1 ", ""})
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]bool{
		"127.0.0.1":        true,
		"10.20.30.40":      true,
		"::1":              true,
		"::ffff:127.0.0.1": true,
		"192.168.1.1":      false,
		"not-an-ip":        false,
		"":                 false,
	}
	for ip, want := range tests {
		if got := nets.Contains(ip); got != want {
			t.Fatalf("Contains(%q): got %v, want %v", ip, got, want)
		}
	}
}

func TestParseTrustedRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := ParseTrusted([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatal("expected no token without header")
	}
	r.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(r); ok {
		t.Fatal("expected basic auth to be ignored")
	}
	r.Header.Set("Authorization", "Bearer  s3cret ")
	if tok, ok := BearerToken(r); !ok || tok != "s3cret" {
		t.Fatalf("expected s3cret, got %q", tok)
	}
}

func TestKeyEquals(t *testing.T) {
	t.Parallel()
	if !KeyEquals("abc", "abc") {
		t.Fatalf("expected equal keys")
	}
	if KeyEquals("abc", "abd") {
		t.Fatalf("expected non-equal keys")
	}
	if KeyEquals("", "") {
		t.Fatalf("expected empty configured key to never match")
	}
}

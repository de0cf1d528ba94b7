package domain

import (
	"errors"
	"testing"
)

func TestRelayDescriptorPublicURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://relay.example.com/tests":   "https://relay.example.com/tests/ab12cd/",
		"https://relay.example.com/tests/":  "https://relay.example.com/tests/ab12cd/",
		" https://relay.example.com/tests ": "https://relay.example.com/tests/ab12cd/",
		"http://203.0.113.5":                "http://203.0.113.5/ab12cd/",
	}
	for base, want := range tests {
		d := RelayDescriptor{BaseURL: base}
		if got := d.PublicURL("ab12cd"); got != want {
			t.Fatalf("PublicURL(%q): got %q, want %q", base, got, want)
		}
	}
}

func TestRelayDescriptorSocketPath(t *testing.T) {
	t.Parallel()

	d := RelayDescriptor{SocketDirectory: "/var/run/tunnels/"}
	if got := d.SocketPath("ab12cd"); got != "/var/run/tunnels/ab12cd" {
		t.Fatalf("expected /var/run/tunnels/ab12cd, got %q", got)
	}
}

func TestRelayDescriptorValidate(t *testing.T) {
	t.Parallel()

	full := RelayDescriptor{Username: "tunnel", SocketDirectory: "/run/t", BaseURL: "https://relay.example.com/t"}
	if err := full.Validate(); err != nil {
		t.Fatalf("expected valid descriptor, got %v", err)
	}

	cases := []struct {
		name  string
		d     RelayDescriptor
		field string
	}{
		{"username", RelayDescriptor{SocketDirectory: "/run/t", BaseURL: "https://r/t"}, "username"},
		{"socket_directory", RelayDescriptor{Username: "u", BaseURL: "https://r/t"}, "socket_directory"},
		{"base_url", RelayDescriptor{Username: "u", SocketDirectory: "/run/t"}, "base_url"},
		{"base_url_relative", RelayDescriptor{Username: "u", SocketDirectory: "/run/t", BaseURL: "/relative"}, "base_url"},
		{"base_url_scheme", RelayDescriptor{Username: "u", SocketDirectory: "/run/t", BaseURL: "ftp://r/t"}, "base_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.d.Validate()
			var de *DescriptorError
			if !errors.As(err, &de) {
				t.Fatalf("expected DescriptorError, got %v", err)
			}
			if de.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, de.Field)
			}
		})
	}
}

func TestStateActive(t *testing.T) {
	t.Parallel()

	active := map[State]bool{
		StateIdle:             false,
		StateConnecting:       true,
		StateConnected:        true,
		StateDisconnecting:    true,
		StateReconnectWaiting: true,
		StateFailed:           false,
	}
	for s, want := range active {
		if got := s.Active(); got != want {
			t.Fatalf("%s.Active(): got %v, want %v", s, got, want)
		}
	}
}

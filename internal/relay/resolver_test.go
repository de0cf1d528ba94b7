package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webquiz/quiztunnel/internal/domain"
)

const validDescriptor = `
username: tunneluser
socket_directory: /var/run/tunnels
base_url: https://relay.example.com/tests
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestDescriptorURLScheme(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"203.0.113.5":       "http://203.0.113.5/tunnel_config.yaml",
		"203.0.113.5:8080":  "http://203.0.113.5:8080/tunnel_config.yaml",
		"2001:db8::1":       "http://[2001:db8::1]/tunnel_config.yaml",
		"relay.example.com": "https://relay.example.com/tunnel_config.yaml",
		"localhost:8443":    "https://localhost:8443/tunnel_config.yaml",
	}
	for host, want := range tests {
		if got := DescriptorURL(host); got != want {
			t.Fatalf("DescriptorURL(%q): got %q, want %q", host, got, want)
		}
	}
}

func TestResolveFetchesOverHTTPForIPHost(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(validDescriptor))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	d, err := New(srv.Client(), quietLogger()).Resolve(context.Background(), Config{RelayHost: host})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotPath != DescriptorPath {
		t.Fatalf("expected request to %s, got %s", DescriptorPath, gotPath)
	}
	if d.Username != "tunneluser" || d.SocketDirectory != "/var/run/tunnels" || d.BaseURL != "https://relay.example.com/tests" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if d.Source != domain.DescriptorFromRemote {
		t.Fatalf("expected remote source, got %q", d.Source)
	}
}

func TestResolveFetchesOverHTTPSForNamedHost(t *testing.T) {
	t.Parallel()

	var gotTLS atomic.Bool
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTLS.Store(r.TLS != nil)
		_, _ = w.Write([]byte(validDescriptor))
	}))
	defer srv.Close()

	// The test certificate is valid for example.com; route that name to the
	// local listener.
	tr := srv.Client().Transport.(*http.Transport).Clone()
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, srv.Listener.Addr().String())
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	if _, err := New(client, quietLogger()).Resolve(context.Background(), Config{RelayHost: "example.com"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !gotTLS.Load() {
		t.Fatal("expected descriptor to be fetched over TLS for a named host")
	}
}

func TestResolveUsesOverrideWithoutNetwork(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(validDescriptor))
	}))
	defer srv.Close()

	override := &domain.RelayDescriptor{
		Username:        "local",
		SocketDirectory: "/srv/sockets",
		BaseURL:         "https://mine.example.com/q",
	}
	host := strings.TrimPrefix(srv.URL, "http://")
	d, err := New(srv.Client(), quietLogger()).Resolve(context.Background(), Config{RelayHost: host, Override: override})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no descriptor fetch, got %d", hits.Load())
	}
	if d.Username != "local" || d.Source != domain.DescriptorFromOverride {
		t.Fatalf("expected override descriptor, got %+v", d)
	}
}

func TestResolveRejectsPartialOverride(t *testing.T) {
	t.Parallel()

	_, err := New(nil, quietLogger()).Resolve(context.Background(), Config{
		RelayHost: "relay.example.com",
		Override:  &domain.RelayDescriptor{Username: "local", BaseURL: "https://x.example.com"},
	})
	var de *domain.DescriptorError
	if !errors.As(err, &de) || de.Field != "socket_directory" {
		t.Fatalf("expected DescriptorError for socket_directory, got %v", err)
	}
}

func TestResolveUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	_, err := New(srv.Client(), quietLogger()).Resolve(context.Background(), Config{RelayHost: host})
	if !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable for 404, got %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status in error, got %v", err)
	}

	srv.Close()
	_, err = New(srv.Client(), quietLogger()).Resolve(context.Background(), Config{RelayHost: host})
	if !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable for closed server, got %v", err)
	}
}

func TestResolveRequiresHost(t *testing.T) {
	t.Parallel()

	_, err := New(nil, quietLogger()).Resolve(context.Background(), Config{})
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"empty", "", "document"},
		{"not_yaml", "username: [unclosed", "document"},
		{"missing_username", "socket_directory: /s\nbase_url: https://r/t\n", "username"},
		{"missing_socket_directory", "username: u\nbase_url: https://r/t\n", "socket_directory"},
		{"missing_base_url", "username: u\nsocket_directory: /s\n", "base_url"},
		{"number_username", "username: 42\nsocket_directory: /s\nbase_url: https://r/t\n", "username"},
		{"list_socket_directory", "username: u\nsocket_directory: [a]\nbase_url: https://r/t\n", "socket_directory"},
		{"blank_base_url", "username: u\nsocket_directory: /s\nbase_url: '  '\n", "base_url"},
		{"relative_base_url", "username: u\nsocket_directory: /s\nbase_url: /t\n", "base_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDescriptor([]byte(tc.body))
			if !errors.Is(err, domain.ErrInvalidDescriptor) {
				t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
			}
			var de *domain.DescriptorError
			if !errors.As(err, &de) || de.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

// Package relay obtains the parameters needed to build a tunnel on a relay,
// either from a trusted local override or from the relay's descriptor
// document.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webquiz/quiztunnel/internal/domain"
	"github.com/webquiz/quiztunnel/internal/netutil"
)

// DescriptorPath is the well-known document path on every relay.
const DescriptorPath = "/tunnel_config.yaml"

const (
	defaultFetchTimeout = 30 * time.Second
	maxDescriptorBytes  = 64 * 1024
)

// Config selects where a descriptor comes from.
type Config struct {
	RelayHost string
	Override  *domain.RelayDescriptor
}

// Resolver fetches or returns relay descriptors. It never caches: every call
// reflects the relay's current document.
type Resolver struct {
	log    *slog.Logger
	client *http.Client
}

// New creates a Resolver. A nil client gets a default one with a 30s timeout.
func New(client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{log: logger, client: client}
}

// DescriptorURL returns the descriptor location for relayHost. Literal IP
// hosts use plain HTTP so lab relays can run without a certificate; named
// hosts use HTTPS.
func DescriptorURL(relayHost string) string {
	scheme := "https"
	if netutil.IsIPLiteral(relayHost) {
		scheme = "http"
	}
	return scheme + "://" + netutil.HostAuthority(relayHost) + DescriptorPath
}

// Resolve returns the descriptor for cfg. A complete override is returned
// without any network call.
func (r *Resolver) Resolve(ctx context.Context, cfg Config) (domain.RelayDescriptor, error) {
	if cfg.Override != nil {
		d := *cfg.Override
		if err := d.Validate(); err != nil {
			return domain.RelayDescriptor{}, err
		}
		d.Source = domain.DescriptorFromOverride
		r.log.Debug("using local relay descriptor override")
		return d, nil
	}
	if strings.TrimSpace(cfg.RelayHost) == "" {
		return domain.RelayDescriptor{}, fmt.Errorf("relay host: %w", domain.ErrNotConfigured)
	}

	u := DescriptorURL(cfg.RelayHost)
	body, err := r.fetch(ctx, u)
	if err != nil {
		return domain.RelayDescriptor{}, &domain.TunnelError{Op: "fetch descriptor " + u, Err: domain.WithCause(domain.ErrUnreachable, err)}
	}
	d, err := ParseDescriptor(body)
	if err != nil {
		return domain.RelayDescriptor{}, err
	}
	d.Source = domain.DescriptorFromRemote
	r.log.Info("fetched relay descriptor", "url", u, "username", d.Username, "base_url", d.BaseURL)
	return d, nil
}

func (r *Resolver) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/yaml, text/yaml, text/plain")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDescriptorBytes))
}

// ParseDescriptor decodes a descriptor document. Each of username,
// socket_directory and base_url must be a non-empty string; the first
// violation is reported as a [*domain.DescriptorError].
func ParseDescriptor(body []byte) (domain.RelayDescriptor, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return domain.RelayDescriptor{}, &domain.DescriptorError{Field: "document", Reason: "is not valid YAML: " + err.Error()}
	}
	if doc == nil {
		return domain.RelayDescriptor{}, &domain.DescriptorError{Field: "document", Reason: "is empty"}
	}
	fields := [...]string{"username", "socket_directory", "base_url"}
	values := make(map[string]string, len(fields))
	for _, name := range fields {
		raw, ok := doc[name]
		if !ok || raw == nil {
			return domain.RelayDescriptor{}, &domain.DescriptorError{Field: name, Reason: "is missing"}
		}
		s, ok := raw.(string)
		if !ok {
			return domain.RelayDescriptor{}, &domain.DescriptorError{Field: name, Reason: fmt.Sprintf("must be a string, got %T", raw)}
		}
		values[name] = strings.TrimSpace(s)
	}
	d := domain.RelayDescriptor{
		Username:        values["username"],
		SocketDirectory: values["socket_directory"],
		BaseURL:         values["base_url"],
	}
	if err := d.Validate(); err != nil {
		return domain.RelayDescriptor{}, err
	}
	return d, nil
}

// Package tunnel runs the reverse tunnel session: it provisions keys,
// resolves the relay descriptor, opens the SSH link with a remote unix socket
// forward, and keeps it alive with backoff-driven reconnects.
package tunnel

import (
	"context"

	"github.com/webquiz/quiztunnel/internal/domain"
	"github.com/webquiz/quiztunnel/internal/relay"
)

// KeyProvider returns the identity used to authenticate to the relay.
type KeyProvider interface {
	EnsureKeyPair(publicPath, privatePath string) (domain.KeyPair, error)
}

// DescriptorResolver returns the relay parameters for one connect attempt.
type DescriptorResolver interface {
	Resolve(ctx context.Context, cfg relay.Config) (domain.RelayDescriptor, error)
}

// Target is everything a Connector needs to open one link.
type Target struct {
	Address      string // relay SSH endpoint, host:port
	Username     string
	SocketPath   string // remote unix socket to forward
	LocalAddress string // where forwarded connections are proxied to
	Key          domain.KeyPair
}

// Connector opens a forwarded link to the relay.
type Connector interface {
	Open(ctx context.Context, t Target) (Link, error)
}

// Link is a live forwarded connection. Done is closed when the link ends for
// any reason; Err then reports why, or nil after Close.
type Link interface {
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Config is the per-session tunnel configuration.
type Config struct {
	RelayHost      string
	SSHPort        int
	PublicKeyPath  string
	PrivateKeyPath string
	SocketName     string // fixed rendezvous id; random when empty
	LocalPort      int
	Override       *domain.RelayDescriptor
}

func (c Config) relayConfig() relay.Config {
	return relay.Config{RelayHost: c.RelayHost, Override: c.Override}
}

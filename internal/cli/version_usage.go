package cli

import (
	"fmt"

	"github.com/webquiz/quiztunnel/internal/versionutil"
)

func printUsage() {
	fmt.Println(`quiztunnel - reverse SSH tunnel for a local quiz server

Publishes a local web quiz through a relay you control, so participants can
reach it from a public URL without opening inbound ports.

Usage:
  quiztunnel serve [flags]              Run the admin API and tunnel session (default)
                                        -connect starts the tunnel right away
  quiztunnel keys [flags]               Create the key pair if needed and print the public key
  quiztunnel resolve [flags]            Print the relay descriptor the tunnel would use
  quiztunnel version                    Print version
  quiztunnel help                       Show this help

Common flags:
  -config PATH                          Config file (default: $QUIZTUNNEL_CONFIG or ./config.yaml)
  -server HOST                          Relay host
  -log-level LEVEL                      debug|info|warn|error
  -log-format FORMAT                    text|json

Environment Variables:
  QUIZTUNNEL_CONFIG         Config file path
  QUIZTUNNEL_BINARY_DIR     Base directory for relative paths
  QUIZTUNNEL_TUNNEL_SERVER  Relay host
  QUIZTUNNEL_SSH_PORT       Relay SSH port (default: 22)
  QUIZTUNNEL_PUBLIC_KEY     Public key path
  QUIZTUNNEL_PRIVATE_KEY    Private key path
  QUIZTUNNEL_SOCKET_NAME    Fixed rendezvous id
  QUIZTUNNEL_PORT           Local quiz server port (default: 8080)
  QUIZTUNNEL_ADMIN_LISTEN   Admin API address (default: 127.0.0.1:8081)
  QUIZTUNNEL_MASTER_KEY     Bearer key for admin API callers outside trusted_ips
  QUIZTUNNEL_AUTO_CONNECT   Connect on startup (true|false)
  QUIZTUNNEL_LOG_LEVEL      Log level (default: info)

Variables may also be placed in a .env file.`)
}

// Version is set at build time via -ldflags.
var Version = versionutil.Dev

func init() {
	Version = versionutil.Resolve(Version, versionutil.GitDescribe)
}

func printVersion() {
	fmt.Println("quiztunnel", Version)
}

// Package config loads quiztunnel settings from defaults, a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webquiz/quiztunnel/internal/domain"
	"github.com/webquiz/quiztunnel/internal/tunnel"
)

// EnvBinaryDir names the directory relative paths are resolved against.
const EnvBinaryDir = "QUIZTUNNEL_BINARY_DIR"

const (
	defaultConfigFile        = "config.yaml"
	defaultServerPort        = 8080
	defaultAdminListen       = "127.0.0.1:8081"
	defaultJournalPath       = "data/tunnel.db"
	defaultJournalKeep       = 500
	defaultSSHPort           = 22
	defaultPublicKey         = "keys/id_ed25519.pub"
	defaultPrivateKey        = "keys/id_ed25519"
	defaultKeepaliveInterval = 30 * time.Second
	defaultConnectTimeout    = 30 * time.Second
)

// Config is the full application configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Server    ServerConfig  `yaml:"server"`
	Admin     AdminConfig   `yaml:"admin"`
	Debug     DebugConfig   `yaml:"debug"`
	Journal   JournalConfig `yaml:"journal"`
	Tunnel    TunnelConfig  `yaml:"tunnel"`
}

// ServerConfig describes the local quiz service the tunnel exposes.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// AdminConfig configures the operator control API.
type AdminConfig struct {
	Listen     string   `yaml:"listen"`
	MasterKey  string   `yaml:"master_key"`
	TrustedIPs []string `yaml:"trusted_ips"`
}

// DebugConfig configures the pprof and metrics listener. Empty disables it.
type DebugConfig struct {
	Listen string `yaml:"listen"`
}

// JournalConfig configures the status event journal. An empty path
// disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
	Keep int    `yaml:"keep"`
}

// TunnelConfig is the tunnel section of the config file.
type TunnelConfig struct {
	Server            string                  `yaml:"server"`
	SSHPort           int                     `yaml:"ssh_port"`
	PublicKey         string                  `yaml:"public_key"`
	PrivateKey        string                  `yaml:"private_key"`
	KnownHosts        string                  `yaml:"known_hosts"`
	SocketName        string                  `yaml:"socket_name"`
	AutoConnect       bool                    `yaml:"auto_connect"`
	KeepaliveInterval time.Duration           `yaml:"keepalive_interval"`
	ConnectTimeout    time.Duration           `yaml:"connect_timeout"`
	Override          *domain.RelayDescriptor `yaml:"config"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Server:    ServerConfig{Port: defaultServerPort},
		Admin: AdminConfig{
			Listen:     defaultAdminListen,
			TrustedIPs: []string{"127.0.0.1", "::1"},
		},
		Journal: JournalConfig{Path: defaultJournalPath, Keep: defaultJournalKeep},
		Tunnel: TunnelConfig{
			SSHPort:           defaultSSHPort,
			PublicKey:         defaultPublicKey,
			PrivateKey:        defaultPrivateKey,
			KeepaliveInterval: defaultKeepaliveInterval,
			ConnectTimeout:    defaultConnectTimeout,
		},
	}
}

// DefaultPath returns the config file used when none is given: the
// QUIZTUNNEL_CONFIG environment variable, or config.yaml next to the binary
// if it exists. It returns "" when there is nothing to load.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv("QUIZTUNNEL_CONFIG")); v != "" {
		return v
	}
	p := ResolvePath(defaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. Relative paths are resolved and the
// result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envOrDefault("QUIZTUNNEL_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("QUIZTUNNEL_LOG_FORMAT", c.LogFormat)
	c.Server.Port = envIntOrDefault("QUIZTUNNEL_PORT", c.Server.Port)
	c.Admin.Listen = envOrDefault("QUIZTUNNEL_ADMIN_LISTEN", c.Admin.Listen)
	c.Admin.MasterKey = envOrDefault("QUIZTUNNEL_MASTER_KEY", c.Admin.MasterKey)
	if v := strings.TrimSpace(os.Getenv("QUIZTUNNEL_TRUSTED_IPS")); v != "" {
		c.Admin.TrustedIPs = splitList(v)
	}
	c.Debug.Listen = envOrDefault("QUIZTUNNEL_DEBUG_LISTEN", c.Debug.Listen)
	c.Journal.Path = envOrDefault("QUIZTUNNEL_JOURNAL_PATH", c.Journal.Path)
	c.Journal.Keep = envIntOrDefault("QUIZTUNNEL_JOURNAL_KEEP", c.Journal.Keep)
	c.Tunnel.Server = envOrDefault("QUIZTUNNEL_TUNNEL_SERVER", c.Tunnel.Server)
	c.Tunnel.SSHPort = envIntOrDefault("QUIZTUNNEL_SSH_PORT", c.Tunnel.SSHPort)
	c.Tunnel.PublicKey = envOrDefault("QUIZTUNNEL_PUBLIC_KEY", c.Tunnel.PublicKey)
	c.Tunnel.PrivateKey = envOrDefault("QUIZTUNNEL_PRIVATE_KEY", c.Tunnel.PrivateKey)
	c.Tunnel.KnownHosts = envOrDefault("QUIZTUNNEL_KNOWN_HOSTS", c.Tunnel.KnownHosts)
	c.Tunnel.SocketName = envOrDefault("QUIZTUNNEL_SOCKET_NAME", c.Tunnel.SocketName)
	c.Tunnel.AutoConnect = envBoolOrDefault("QUIZTUNNEL_AUTO_CONNECT", c.Tunnel.AutoConnect)
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Tunnel.Server = strings.TrimSpace(c.Tunnel.Server)
	c.Tunnel.SocketName = strings.TrimSpace(c.Tunnel.SocketName)
	c.Tunnel.PublicKey = ResolvePath(c.Tunnel.PublicKey)
	c.Tunnel.PrivateKey = ResolvePath(c.Tunnel.PrivateKey)
	c.Tunnel.KnownHosts = ResolvePath(c.Tunnel.KnownHosts)
	c.Journal.Path = ResolvePath(c.Journal.Path)
	if o := c.Tunnel.Override; o != nil {
		o.Username = strings.TrimSpace(o.Username)
		o.SocketDirectory = strings.TrimSpace(o.SocketDirectory)
		o.BaseURL = strings.TrimSpace(o.BaseURL)
		if *o == (domain.RelayDescriptor{}) {
			c.Tunnel.Override = nil
		}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log_level must be one of: debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.New("log_format must be one of: text, json")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	for _, entry := range c.Admin.TrustedIPs {
		if !validIPOrCIDR(entry) {
			return fmt.Errorf("admin.trusted_ips: %q is not an IP address or CIDR", entry)
		}
	}
	if c.Journal.Keep < 0 {
		return errors.New("journal.keep must be >= 0")
	}
	t := c.Tunnel
	if t.SSHPort <= 0 || t.SSHPort > 65535 {
		return errors.New("tunnel.ssh_port must be between 1 and 65535")
	}
	if t.SocketName != "" && !tunnel.ValidRendezvousID(t.SocketName) {
		return errors.New("tunnel.socket_name may only contain lowercase letters, digits, '-' and '_'")
	}
	if t.KeepaliveInterval <= 0 {
		return errors.New("tunnel.keepalive_interval must be > 0")
	}
	if t.ConnectTimeout <= 0 {
		return errors.New("tunnel.connect_timeout must be > 0")
	}
	if t.Override != nil {
		if err := t.Override.Validate(); err != nil {
			return fmt.Errorf("tunnel.config: %w", err)
		}
	}
	return nil
}

// TunnelConfigured reports whether enough is set to attempt a connection.
// The relay host is always needed for SSH, even with a local override.
func (c Config) TunnelConfigured() bool {
	return c.Tunnel.Server != "" && c.Tunnel.PublicKey != "" && c.Tunnel.PrivateKey != ""
}

// Session returns the tunnel session configuration.
func (c Config) Session() tunnel.Config {
	var override *domain.RelayDescriptor
	if c.Tunnel.Override != nil {
		o := *c.Tunnel.Override
		override = &o
	}
	return tunnel.Config{
		RelayHost:      c.Tunnel.Server,
		SSHPort:        c.Tunnel.SSHPort,
		PublicKeyPath:  c.Tunnel.PublicKey,
		PrivateKeyPath: c.Tunnel.PrivateKey,
		SocketName:     c.Tunnel.SocketName,
		LocalPort:      c.Server.Port,
		Override:       override,
	}
}

// ResolvePath makes a relative path absolute against QUIZTUNNEL_BINARY_DIR
// when it is set. Empty and absolute paths are returned unchanged.
func ResolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if dir := strings.TrimSpace(os.Getenv(EnvBinaryDir)); dir != "" {
		return filepath.Join(dir, p)
	}
	return p
}

func validIPOrCIDR(v string) bool {
	v = strings.TrimSpace(v)
	if net.ParseIP(v) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(v)
	return err == nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Package domain defines the core data types shared across the tunnel
// session, key store, relay resolver, and status fan-out layers.
package domain

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// State is the lifecycle state of a tunnel session.
type State string

const (
	StateIdle             State = "idle"
	StateConnecting       State = "connecting"
	StateConnected        State = "connected"
	StateDisconnecting    State = "disconnecting"
	StateReconnectWaiting State = "reconnect_waiting"
	StateFailed           State = "failed"
)

// Active reports whether a session in state s is live, i.e. a new connect
// request must not start a second one.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateConnected, StateReconnectWaiting, StateDisconnecting:
		return true
	default:
		return false
	}
}

// KeyAlgorithm is the only key type the key store produces.
const KeyAlgorithm = ssh.KeyAlgoED25519

// KeyPair is the identity used to authenticate to the relay.
// PrivateKeyPEM must never be logged or sent anywhere.
type KeyPair struct {
	Algorithm     string
	PrivateKeyPEM []byte
	PublicKey     []byte // single authorized_keys line, newline terminated
	Signer        ssh.Signer
}

// Fingerprint returns the SHA256 fingerprint of the public key, safe to log.
func (k KeyPair) Fingerprint() string {
	if k.Signer == nil {
		return ""
	}
	return ssh.FingerprintSHA256(k.Signer.PublicKey())
}

// KeyStatus summarizes the state of the key files on disk.
type KeyStatus string

const (
	KeyStatusOK            KeyStatus = "ok"
	KeyStatusMissing       KeyStatus = "missing"
	KeyStatusPartial       KeyStatus = "partial"
	KeyStatusInvalid       KeyStatus = "invalid"
	KeyStatusNotConfigured KeyStatus = "not_configured"
)

// KeyHealth is the key store's report for operators.
type KeyHealth struct {
	Status    KeyStatus `json:"status"`
	PublicKey string    `json:"public_key,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// DescriptorSource tells where a relay descriptor came from.
type DescriptorSource string

const (
	DescriptorFromOverride DescriptorSource = "override"
	DescriptorFromRemote   DescriptorSource = "remote"
)

// RelayDescriptor holds the parameters needed to build a tunnel on a relay.
// It is immutable once resolved for a session attempt.
type RelayDescriptor struct {
	Username        string           `json:"username" yaml:"username"`
	SocketDirectory string           `json:"socket_directory" yaml:"socket_directory"`
	BaseURL         string           `json:"base_url" yaml:"base_url"`
	Source          DescriptorSource `json:"source,omitempty" yaml:"-"`
}

// Validate checks that all fields are present and that BaseURL is an
// absolute http(s) URL. The returned error is a [*DescriptorError].
func (d RelayDescriptor) Validate() error {
	if strings.TrimSpace(d.Username) == "" {
		return &DescriptorError{Field: "username", Reason: "is missing"}
	}
	if strings.TrimSpace(d.SocketDirectory) == "" {
		return &DescriptorError{Field: "socket_directory", Reason: "is missing"}
	}
	if strings.TrimSpace(d.BaseURL) == "" {
		return &DescriptorError{Field: "base_url", Reason: "is missing"}
	}
	u, err := url.Parse(strings.TrimSpace(d.BaseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &DescriptorError{Field: "base_url", Reason: "is not an absolute http(s) URL"}
	}
	return nil
}

// Complete reports whether every field is populated.
func (d RelayDescriptor) Complete() bool {
	return strings.TrimSpace(d.Username) != "" &&
		strings.TrimSpace(d.SocketDirectory) != "" &&
		strings.TrimSpace(d.BaseURL) != ""
}

// SocketPath returns the relay-side unix socket path for a rendezvous id.
func (d RelayDescriptor) SocketPath(rendezvousID string) string {
	return strings.TrimRight(strings.TrimSpace(d.SocketDirectory), "/") + "/" + rendezvousID
}

// PublicURL returns the public URL under which a tunnel is reachable.
func (d RelayDescriptor) PublicURL(rendezvousID string) string {
	return strings.TrimRight(strings.TrimSpace(d.BaseURL), "/") + "/" + rendezvousID + "/"
}

// StatusEvent is an immutable snapshot of a session, broadcast on every
// transition. It carries no secrets.
type StatusEvent struct {
	Seq          uint64        `json:"seq"`
	State        State         `json:"state"`
	PublicURL    string        `json:"public_url,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	RendezvousID string        `json:"rendezvous_id,omitempty"`
	RetryAttempt int           `json:"retry_attempt"`
	RetryIn      time.Duration `json:"retry_in,omitempty"`
	At           time.Time     `json:"at"`
}

// Connected reports whether the event describes a live tunnel.
func (e StatusEvent) Connected() bool {
	return e.State == StateConnected
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tunnel failure taxonomy. Callers should use
// [errors.Is] to match these; [KindOf] maps them to an [ErrorKind].
var (
	// ErrPartialKeyPair means only one of the two key files exists. It is
	// never repaired automatically and halts the retry loop.
	ErrPartialKeyPair = errors.New("partial key pair")

	// ErrKeyUnreadable means a key file exists but cannot be read or parsed.
	ErrKeyUnreadable = errors.New("key unreadable")

	// ErrInvalidDescriptor means the relay descriptor is missing a field or
	// has a malformed one.
	ErrInvalidDescriptor = errors.New("invalid relay descriptor")

	// ErrUnreachable covers network failures while fetching the descriptor
	// or opening the SSH connection.
	ErrUnreachable = errors.New("relay unreachable")

	// ErrAuthenticationRejected means the relay did not accept our public key.
	ErrAuthenticationRejected = errors.New("authentication rejected by relay")

	// ErrForwardingRejected means the relay refused to set up the rendezvous
	// socket.
	ErrForwardingRejected = errors.New("forwarding rejected by relay")

	// ErrLinkDropped means a connected tunnel lost its SSH connection.
	ErrLinkDropped = errors.New("link dropped")

	// ErrNotConfigured means the relay host or key paths are not set.
	ErrNotConfigured = errors.New("tunnel not configured")
)

// ErrorKind is the stable, machine-readable name of a tunnel failure.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindPartialKeyPair         ErrorKind = "partial_key_pair"
	KindKeyUnreadable          ErrorKind = "key_unreadable"
	KindInvalidDescriptor      ErrorKind = "invalid_descriptor"
	KindUnreachable            ErrorKind = "unreachable"
	KindAuthenticationRejected ErrorKind = "authentication_rejected"
	KindForwardingRejected     ErrorKind = "forwarding_rejected"
	KindLinkDropped            ErrorKind = "link_dropped"
	KindNotConfigured          ErrorKind = "not_configured"
	KindUnknown                ErrorKind = "unknown"
)

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindPartialKeyPair, ErrPartialKeyPair},
	{KindKeyUnreadable, ErrKeyUnreadable},
	{KindInvalidDescriptor, ErrInvalidDescriptor},
	{KindAuthenticationRejected, ErrAuthenticationRejected},
	{KindForwardingRejected, ErrForwardingRejected},
	{KindLinkDropped, ErrLinkDropped},
	{KindUnreachable, ErrUnreachable},
	{KindNotConfigured, ErrNotConfigured},
}

// KindOf classifies err. A nil error yields [KindNone]; an error outside the
// taxonomy yields [KindUnknown].
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}

// Sentinel returns the taxonomy error for k, or nil.
func (k ErrorKind) Sentinel() error {
	for _, ks := range kindSentinels {
		if ks.kind == k {
			return ks.err
		}
	}
	return nil
}

// IsRetryable reports whether the session should keep retrying after err.
// Only operator-fixable conditions stop the loop.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNone, KindPartialKeyPair, KindNotConfigured:
		return false
	default:
		return true
	}
}

// TunnelError wraps an underlying error with tunnel context.
type TunnelError struct {
	RendezvousID string
	Op           string
	Err          error
}

func (e *TunnelError) Error() string {
	if e.RendezvousID != "" {
		return fmt.Sprintf("tunnel %s: %s: %v", e.RendezvousID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

// KeyError reports a key file problem for a specific path.
type KeyError struct {
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %s: %v", e.Path, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// DescriptorError names the offending relay descriptor field.
type DescriptorError struct {
	Field  string
	Reason string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("%v: field %q %s", ErrInvalidDescriptor, e.Field, e.Reason)
}

func (e *DescriptorError) Unwrap() error {
	return ErrInvalidDescriptor
}

// causeError pairs a taxonomy sentinel with the underlying cause so both
// match [errors.Is].
type causeError struct {
	kind  error
	cause error
}

func (e *causeError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *causeError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// WithCause returns an error matching both kind and cause. The cause is kept
// for logging.
func WithCause(kind, cause error) error {
	return &causeError{kind: kind, cause: cause}
}

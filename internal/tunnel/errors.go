package tunnel

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/webquiz/quiztunnel/internal/domain"
)

// shortenError renders err for status events: the taxonomy sentinel followed
// by the innermost network error (e.g. "relay unreachable: connection
// refused") instead of the full dial trace.
func shortenError(err error) string {
	if err == nil {
		return ""
	}
	var de *domain.DescriptorError
	if errors.As(err, &de) {
		return de.Error()
	}
	var ke *domain.KeyError
	if errors.As(err, &ke) {
		return ke.Error()
	}

	detail := ""
	var ue *url.Error
	if errors.As(err, &ue) {
		detail = ue.Err.Error()
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Err != nil {
		detail = oe.Err.Error()
	}
	if detail == "" {
		return err.Error()
	}
	if sentinel := domain.KindOf(err).Sentinel(); sentinel != nil {
		return sentinel.Error() + ": " + detail
	}
	return detail
}

// classifyHandshakeError maps an SSH handshake failure into the taxonomy.
func classifyHandshakeError(addr string, err error) error {
	msg := strings.ToLower(err.Error())
	kind := domain.ErrUnreachable
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		kind = domain.ErrAuthenticationRejected
	}
	return &domain.TunnelError{Op: "ssh handshake " + addr, Err: domain.WithCause(kind, err)}
}

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/webquiz/quiztunnel/internal/domain"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultKeepaliveInterval = 30 * time.Second
	keepaliveRequest         = "keepalive@openssh.com"
)

// SSHOptions configures an [SSHConnector].
type SSHOptions struct {
	// KnownHostsPath enables host key verification. When empty and
	// HostKeyCallback is nil, any host key is accepted.
	KnownHostsPath    string
	HostKeyCallback   ssh.HostKeyCallback
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
}

// SSHConnector opens reverse tunnels with golang.org/x/crypto/ssh: it
// authenticates with the session key and asks the relay to forward a remote
// unix socket back over the connection.
type SSHConnector struct {
	log               *slog.Logger
	hostKeyCallback   ssh.HostKeyCallback
	connectTimeout    time.Duration
	keepaliveInterval time.Duration
}

// NewSSHConnector builds a connector from opts.
func NewSSHConnector(opts SSHOptions, logger *slog.Logger) (*SSHConnector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cb := opts.HostKeyCallback
	if cb == nil && opts.KnownHostsPath != "" {
		var err error
		cb, err = knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", opts.KnownHostsPath, err)
		}
	}
	if cb == nil {
		logger.Warn("relay host key verification disabled; set tunnel.known_hosts to enable it")
		cb = ssh.InsecureIgnoreHostKey()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	return &SSHConnector{
		log:               logger,
		hostKeyCallback:   cb,
		connectTimeout:    opts.ConnectTimeout,
		keepaliveInterval: opts.KeepaliveInterval,
	}, nil
}

// Open dials the relay, authenticates and starts forwarding t.SocketPath to
// t.LocalAddress. Cancelling ctx before Open returns closes whatever was
// opened so far.
func (c *SSHConnector) Open(ctx context.Context, t Target) (Link, error) {
	if t.Key.Signer == nil {
		return nil, &domain.TunnelError{Op: "open link", Err: domain.WithCause(domain.ErrKeyUnreadable, errors.New("no signer"))}
	}
	dctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", t.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TunnelError{Op: "dial " + t.Address, Err: domain.WithCause(domain.ErrUnreachable, err)}
	}
	// The handshake and forward request have no context of their own;
	// closing the socket aborts them.
	stop := context.AfterFunc(dctx, func() { _ = conn.Close() })

	cfg := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(t.Key.Signer)},
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.connectTimeout,
	}
	sconn, chans, reqs, err := ssh.NewClientConn(conn, t.Address, cfg)
	if err != nil {
		stop()
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyHandshakeError(t.Address, err)
	}
	client := ssh.NewClient(sconn, chans, reqs)

	ln, err := client.ListenUnix(t.SocketPath)
	if !stop() {
		if ln != nil {
			_ = ln.Close()
		}
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TunnelError{Op: "forward " + t.SocketPath, Err: domain.WithCause(domain.ErrUnreachable, dctx.Err())}
	}
	if err != nil {
		_ = client.Close()
		return nil, &domain.TunnelError{Op: "forward " + t.SocketPath, Err: domain.WithCause(domain.ErrForwardingRejected, err)}
	}

	l := newSSHLink(client, ln, t.LocalAddress, c.keepaliveInterval, c.log)
	l.start()
	return l, nil
}

// sshLink is one live forwarded SSH connection.
type sshLink struct {
	log       *slog.Logger
	client    *ssh.Client
	ln        net.Listener
	localAddr string
	keepalive time.Duration

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu    sync.Mutex
	err   error
	conns map[net.Conn]struct{}
}

func newSSHLink(client *ssh.Client, ln net.Listener, localAddr string, keepalive time.Duration, logger *slog.Logger) *sshLink {
	return &sshLink{
		log:       logger,
		client:    client,
		ln:        ln,
		localAddr: localAddr,
		keepalive: keepalive,
		done:      make(chan struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

func (l *sshLink) start() {
	l.wg.Add(3)
	go l.waitLoop()
	go l.keepaliveLoop()
	go l.acceptLoop()
}

func (l *sshLink) Done() <-chan struct{} { return l.done }

func (l *sshLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close tears the link down and waits for its goroutines. Err stays nil if
// nothing had failed before.
func (l *sshLink) Close() error {
	l.fail(nil)
	l.wg.Wait()
	return nil
}

// fail ends the link once, recording cause.
func (l *sshLink) fail(cause error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = cause
		conns := l.conns
		l.conns = nil
		l.mu.Unlock()

		close(l.done)
		_ = l.client.Close()
		_ = l.ln.Close()
		for c := range conns {
			_ = c.Close()
		}
	})
}

func (l *sshLink) waitLoop() {
	defer l.wg.Done()
	err := l.client.Wait()
	if err == nil {
		err = io.EOF
	}
	l.fail(fmt.Errorf("ssh connection closed: %w", err))
}

func (l *sshLink) keepaliveLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			errc := make(chan error, 1)
			go func() {
				_, _, err := l.client.SendRequest(keepaliveRequest, true, nil)
				errc <- err
			}()
			select {
			case <-l.done:
				return
			case err := <-errc:
				if err != nil {
					l.fail(fmt.Errorf("keepalive: %w", err))
					return
				}
			case <-time.After(l.keepalive):
				l.fail(errors.New("keepalive: no reply from relay"))
				return
			}
		}
	}
}

func (l *sshLink) acceptLoop() {
	defer l.wg.Done()
	for {
		remote, err := l.ln.Accept()
		if err != nil {
			l.fail(fmt.Errorf("accept forwarded connection: %w", err))
			return
		}
		if !l.track(remote) {
			_ = remote.Close()
			return
		}
		l.wg.Add(1)
		go l.proxy(remote)
	}
}

func (l *sshLink) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[c] = struct{}{}
	return true
}

func (l *sshLink) untrack(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns != nil {
		delete(l.conns, c)
	}
}

// proxy copies between a forwarded connection and the local service until
// either side closes.
func (l *sshLink) proxy(remote net.Conn) {
	defer l.wg.Done()
	defer l.untrack(remote)
	defer func() { _ = remote.Close() }()

	local, err := net.DialTimeout("tcp", l.localAddr, 5*time.Second)
	if err != nil {
		l.log.Warn("local service unreachable for forwarded connection", "addr", l.localAddr, "err", err)
		return
	}
	if !l.track(local) {
		_ = local.Close()
		return
	}
	defer l.untrack(local)
	defer func() { _ = local.Close() }()

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(local, remote)
		closeWrite(local)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(remote, local)
		closeWrite(remote)
		errc <- err
	}()
	<-errc
	<-errc
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/webquiz/quiztunnel/internal/backoff"
	"github.com/webquiz/quiztunnel/internal/domain"
	"github.com/webquiz/quiztunnel/internal/netutil"
	"github.com/webquiz/quiztunnel/internal/status"
)

const (
	defaultSSHPort = 22
	authHint       = "register the public key on the relay"
)

// Deps are the collaborators of a Session.
type Deps struct {
	Keys      KeyProvider
	Resolver  DescriptorResolver
	Connector Connector
	Publisher status.Publisher
	Clock     clock.Clock // defaults to clock.WallClock
	Logger    *slog.Logger
}

// Session is the single reverse tunnel of this process. At most one session
// goroutine is live at a time; every state change goes through transition and
// is published exactly once, in order.
type Session struct {
	log       *slog.Logger
	keys      KeyProvider
	resolver  DescriptorResolver
	connector Connector
	publisher status.Publisher
	clock     clock.Clock

	ctl sync.Mutex // serializes Connect, Disconnect and Reconfigure

	pubMu sync.Mutex // held across snapshot update and publish

	mu           sync.Mutex
	cfg          Config
	pending      *Config
	snap         domain.StatusEvent
	gen          uint64
	rendezvousID string
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewSession creates an idle session.
func NewSession(cfg Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = status.PublisherFunc(func(domain.StatusEvent) {})
	}
	return &Session{
		log:       deps.Logger,
		keys:      deps.Keys,
		resolver:  deps.Resolver,
		connector: deps.Connector,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		cfg:       cfg,
		snap:      domain.StatusEvent{State: domain.StateIdle, At: deps.Clock.Now()},
	}
}

// Status returns the latest snapshot.
func (s *Session) Status() domain.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Config returns the configuration the next session start will use.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return *s.pending
	}
	return s.cfg
}

// Reconfigure replaces the configuration. A live session keeps running with
// the old one; the new one applies from the next Connect.
func (s *Session) Reconfigure(cfg Config) {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State.Active() {
		s.pending = &cfg
		s.log.Info("tunnel configuration updated; applies after the current session ends")
		return
	}
	s.applyConfigLocked(cfg)
	s.log.Info("tunnel configuration updated")
}

func (s *Session) applyConfigLocked(cfg Config) {
	if cfg.SocketName != s.cfg.SocketName {
		s.rendezvousID = ""
	}
	s.cfg = cfg
	s.pending = nil
}

// Connect starts the session if it is idle or failed and returns immediately.
// Otherwise it returns the current snapshot unchanged.
func (s *Session) Connect() domain.StatusEvent {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.snap.State.Active() {
		snap := s.snap
		s.mu.Unlock()
		return snap
	}
	if s.pending != nil {
		s.applyConfigLocked(*s.pending)
	}
	cfg := s.cfg
	if s.rendezvousID == "" {
		if cfg.SocketName != "" {
			s.rendezvousID = cfg.SocketName
		} else {
			id, err := newRendezvousID()
			if err != nil {
				s.mu.Unlock()
				ev, _ := s.transition(s.currentGen(), func(ev *domain.StatusEvent) {
					ev.State = domain.StateFailed
					setError(ev, err)
				})
				return ev
			}
			s.rendezvousID = id
		}
	}
	id := s.rendezvousID
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	ev, _ := s.transition(gen, func(ev *domain.StatusEvent) {
		ev.State = domain.StateConnecting
		ev.RendezvousID = id
		ev.RetryAttempt = 0
	})
	s.log.Info("tunnel connecting", "relay", cfg.RelayHost, "rendezvous_id", id)
	go s.run(ctx, gen, cfg, id, done)
	return ev
}

// Disconnect stops the session from any state: it cancels whatever the
// session goroutine is doing, waits for it to unwind (bounded by ctx) and
// returns the final idle snapshot.
func (s *Session) Disconnect(ctx context.Context) domain.StatusEvent {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.snap.State == domain.StateIdle {
		snap := s.snap
		s.mu.Unlock()
		return snap
	}
	s.gen++
	gen := s.gen
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	s.transition(gen, func(ev *domain.StatusEvent) {
		ev.State = domain.StateDisconnecting
	})
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn("tunnel session did not stop in time", "err", ctx.Err())
		}
	}

	s.mu.Lock()
	s.rendezvousID = ""
	if s.pending != nil {
		s.applyConfigLocked(*s.pending)
	}
	s.mu.Unlock()

	ev, _ := s.transition(gen, func(ev *domain.StatusEvent) {
		ev.State = domain.StateIdle
		ev.RendezvousID = ""
		ev.RetryAttempt = 0
	})
	s.log.Info("tunnel disconnected")
	return ev
}

func (s *Session) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// transition applies update to a copy of the snapshot and publishes it,
// unless gen is stale. PublicURL, Error and RetryIn are cleared first so only
// the state that sets them carries them.
func (s *Session) transition(gen uint64, update func(*domain.StatusEvent)) (domain.StatusEvent, bool) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if gen != s.gen {
		snap := s.snap
		s.mu.Unlock()
		return snap, false
	}
	ev := s.snap
	ev.PublicURL = ""
	ev.Error = ""
	ev.ErrorKind = domain.KindNone
	ev.RetryIn = 0
	update(&ev)
	ev.Seq = s.snap.Seq + 1
	ev.At = s.clock.Now()
	s.snap = ev
	s.mu.Unlock()

	s.publisher.Publish(ev)
	return ev, true
}

// run is the session goroutine. It owns the link and the retry timer.
func (s *Session) run(ctx context.Context, gen uint64, cfg Config, id string, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		link, desc, err := s.attempt(ctx, cfg, id)
		if ctx.Err() != nil {
			if link != nil {
				_ = link.Close()
			}
			return
		}
		if err == nil {
			attempt = 0
			publicURL := desc.PublicURL(id)
			if _, ok := s.transition(gen, func(ev *domain.StatusEvent) {
				ev.State = domain.StateConnected
				ev.PublicURL = publicURL
				ev.RetryAttempt = 0
			}); !ok {
				_ = link.Close()
				return
			}
			s.log.Info("tunnel ready", "public_url", publicURL, "rendezvous_id", id, "descriptor", desc.Source)

			select {
			case <-ctx.Done():
				_ = link.Close()
				return
			case <-link.Done():
			}
			err = linkDropError(id, link.Err())
			_ = link.Close()
		} else if !domain.IsRetryable(err) {
			s.transition(gen, func(ev *domain.StatusEvent) {
				ev.State = domain.StateFailed
				ev.RetryAttempt = attempt
				setError(ev, err)
			})
			s.log.Error("tunnel failed; operator action required", "err", err, "kind", domain.KindOf(err))
			return
		}

		attempt++
		wait := backoff.NextDelay(attempt)
		if _, ok := s.transition(gen, func(ev *domain.StatusEvent) {
			ev.State = domain.StateReconnectWaiting
			ev.RetryAttempt = attempt
			ev.RetryIn = wait
			setError(ev, err)
		}); !ok {
			return
		}
		s.log.Warn("tunnel connect failed", "err", err, "kind", domain.KindOf(err), "attempt", attempt, "retry_in", wait.Round(time.Second).String())

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
		if _, ok := s.transition(gen, func(ev *domain.StatusEvent) {
			ev.State = domain.StateConnecting
			ev.RetryAttempt = attempt
		}); !ok {
			return
		}
	}
}

// attempt performs one connect: keys, descriptor, link.
func (s *Session) attempt(ctx context.Context, cfg Config, id string) (Link, domain.RelayDescriptor, error) {
	keys, err := s.keys.EnsureKeyPair(cfg.PublicKeyPath, cfg.PrivateKeyPath)
	if err != nil {
		return nil, domain.RelayDescriptor{}, err
	}
	if strings.TrimSpace(cfg.RelayHost) == "" {
		return nil, domain.RelayDescriptor{}, fmt.Errorf("relay host: %w", domain.ErrNotConfigured)
	}
	desc, err := s.resolver.Resolve(ctx, cfg.relayConfig())
	if err != nil {
		return nil, domain.RelayDescriptor{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.RelayDescriptor{}, err
	}
	target := Target{
		Address:      sshAddress(cfg),
		Username:     desc.Username,
		SocketPath:   desc.SocketPath(id),
		LocalAddress: net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.LocalPort)),
		Key:          keys,
	}
	s.log.Debug("opening tunnel link", "addr", target.Address, "user", target.Username, "socket", target.SocketPath)
	link, err := s.connector.Open(ctx, target)
	if err != nil {
		if errors.Is(err, domain.ErrAuthenticationRejected) {
			s.log.Warn("relay rejected the tunnel key; "+authHint, "fingerprint", keys.Fingerprint(), "user", target.Username)
		}
		return nil, desc, err
	}
	return link, desc, nil
}

func sshAddress(cfg Config) string {
	port := cfg.SSHPort
	if port <= 0 {
		port = defaultSSHPort
	}
	return netutil.DialAddress(netutil.NormalizeHost(cfg.RelayHost), port)
}

func linkDropError(id string, cause error) error {
	err := domain.ErrLinkDropped
	if cause != nil {
		err = domain.WithCause(domain.ErrLinkDropped, cause)
	}
	return &domain.TunnelError{RendezvousID: id, Op: "link", Err: err}
}

func setError(ev *domain.StatusEvent, err error) {
	ev.ErrorKind = domain.KindOf(err)
	msg := shortenError(err)
	if ev.ErrorKind == domain.KindAuthenticationRejected {
		msg = fmt.Sprintf("%s; %s", msg, authHint)
	}
	ev.Error = msg
}

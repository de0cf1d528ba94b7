// Package admin serves the operator control API for the tunnel: connect,
// disconnect, status, key material, the event journal and a live status
// websocket.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/webquiz/quiztunnel/internal/auth"
	"github.com/webquiz/quiztunnel/internal/domain"
	"github.com/webquiz/quiztunnel/internal/netutil"
	"github.com/webquiz/quiztunnel/internal/tunnel"
)

const (
	shutdownTimeout   = 5 * time.Second
	disconnectTimeout = 10 * time.Second
)

// Tunnel is the session the API drives.
type Tunnel interface {
	Status() domain.StatusEvent
	Connect() domain.StatusEvent
	Disconnect(ctx context.Context) domain.StatusEvent
	Config() tunnel.Config
}

// Keys reports on and creates the tunnel key pair.
type Keys interface {
	Health(publicPath, privatePath string) domain.KeyHealth
	EnsureKeyPair(publicPath, privatePath string) (domain.KeyPair, error)
}

// EventLog lists journaled status events, newest first.
type EventLog interface {
	RecentEvents(ctx context.Context, limit int) ([]domain.StatusEvent, error)
}

// Config configures a Server.
type Config struct {
	Listen     string
	MasterKey  string
	TrustedIPs []string
}

// Server is the admin HTTP API.
type Server struct {
	cfg     Config
	trusted auth.TrustedNets
	tunnel  Tunnel
	keys    Keys
	events  EventLog
	ws      http.HandlerFunc
	log     *slog.Logger
}

// New builds a Server. A nil events disables the journal endpoint and a nil
// ws disables /ws/tunnel.
func New(cfg Config, t Tunnel, keys Keys, events EventLog, ws http.HandlerFunc, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	trusted, err := auth.ParseTrusted(cfg.TrustedIPs)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		trusted: trusted,
		tunnel:  t,
		keys:    keys,
		events:  events,
		ws:      ws,
		log:     logger,
	}, nil
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tunnel/connect", s.guard(s.handleConnect))
	mux.HandleFunc("/api/tunnel/disconnect", s.guard(s.handleDisconnect))
	mux.HandleFunc("/api/tunnel/status", s.guard(s.handleStatus))
	mux.HandleFunc("/api/tunnel/public-key", s.guard(s.handlePublicKey))
	mux.HandleFunc("/api/tunnel/events", s.guard(s.handleEvents))
	if s.ws != nil {
		mux.HandleFunc("/ws/tunnel", s.guard(s.ws))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves the API until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting admin API", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return shutdownServer(srv, shutdownTimeout)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// guard admits peers from trusted networks and callers with the master key.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.trusted.Contains(netutil.RemoteIP(r)) {
			next(w, r)
			return
		}
		if token, ok := auth.BearerToken(r); ok && auth.KeyEquals(token, s.cfg.MasterKey) {
			next(w, r)
			return
		}
		s.log.Warn("admin request rejected", "remote", r.RemoteAddr, "path", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

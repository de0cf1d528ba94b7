package admin

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/webquiz/quiztunnel/internal/domain"
)

const defaultEventLimit = 50

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	domain.StatusEvent
	RelayHost string           `json:"relay_host,omitempty"`
	LocalPort int              `json:"local_port"`
	Keys      domain.KeyHealth `json:"keys"`
}

type publicKeyResponse struct {
	PublicKey   string `json:"public_key"`
	Fingerprint string `json:"fingerprint"`
}

type eventsResponse struct {
	Events []domain.StatusEvent `json:"events"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ev := s.tunnel.Connect()
	s.log.Info("tunnel connect requested", "remote", r.RemoteAddr, "state", ev.State)
	writeJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), disconnectTimeout)
	defer cancel()
	ev := s.tunnel.Disconnect(ctx)
	s.log.Info("tunnel disconnect requested", "remote", r.RemoteAddr, "state", ev.State)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg := s.tunnel.Config()
	writeJSON(w, http.StatusOK, statusResponse{
		StatusEvent: s.tunnel.Status(),
		RelayHost:   cfg.RelayHost,
		LocalPort:   cfg.LocalPort,
		Keys:        s.keys.Health(cfg.PublicKeyPath, cfg.PrivateKeyPath),
	})
}

// handlePublicKey returns the public key line an operator registers on the
// relay, generating the pair on first use.
func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg := s.tunnel.Config()
	kp, err := s.keys.EnsureKeyPair(cfg.PublicKeyPath, cfg.PrivateKeyPath)
	if err != nil {
		writeJSON(w, statusForKind(domain.KindOf(err)), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{
		PublicKey:   strings.TrimSpace(string(kp.PublicKey)),
		Fingerprint: kp.Fingerprint(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "event journal disabled"})
		return
	}
	limit := defaultEventLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := s.events.RecentEvents(r.Context(), limit)
	if err != nil {
		s.log.Error("list tunnel events", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []domain.StatusEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotConfigured:
		return http.StatusServiceUnavailable
	case domain.KindPartialKeyPair, domain.KindKeyUnreadable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

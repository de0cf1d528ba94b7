package status

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webquiz/quiztunnel/internal/domain"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongWait     = 2 * wsPingInterval
	wsReadLimit    = 4 * 1024
)

// MessageTypeTunnelStatus tags status events on the websocket channel.
const MessageTypeTunnelStatus = "tunnel_status"

// Message is the envelope written to websocket observers.
type Message struct {
	Type    string             `json:"type"`
	Payload domain.StatusEvent `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin API guards the route; same-origin checks would break the
	// admin UI when it is served through the relay.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams every event to the client until
// either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("status ws upgrade failed", "err", err)
		return
	}
	sub := h.Subscribe()
	h.log.Debug("status ws subscriber connected", "subscriber", sub.id, "remote", r.RemoteAddr)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		_ = conn.Close()
		<-readDone
		h.log.Debug("status ws subscriber disconnected", "subscriber", sub.id)
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(Message{Type: MessageTypeTunnelStatus, Payload: ev}); err != nil {
				return
			}
		}
	}
}

// Forward calls fn for every event until ctx is done. If the subscription is
// evicted for being slow, Forward subscribes again and continues from the
// current state.
func (h *Hub) Forward(ctx context.Context, name string, fn func(domain.StatusEvent)) {
	for {
		sub := h.Subscribe()
		evicted := false
		for !evicted {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case ev, ok := <-sub.C:
				if !ok {
					evicted = true
					continue
				}
				fn(ev)
			}
		}
		h.log.Warn("status consumer fell behind; resubscribing", "consumer", name)
	}
}

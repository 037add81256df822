package fanout

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
)

// clientMessage is what clients may send; only pings are understood.
type clientMessage struct {
	Type string `json:"type"`
}

var pongFrame = []byte(`{"type":"pong"}`)

// OriginChecker returns a CheckOrigin func accepting the given origins.
// Requests without an Origin header come from non-browser clients and are
// allowed.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

// WSHandler upgrades HTTP requests to websockets and attaches each
// connection to the registry as a subscriber.
type WSHandler struct {
	registry    *Registry
	upgrader    websocket.Upgrader
	mailboxSize int
	log         zerolog.Logger
}

// NewWSHandler creates a handler accepting connections from allowedOrigins.
func NewWSHandler(registry *Registry, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigins),
		},
		mailboxSize: DefaultMailboxSize,
		log:         log,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sub := NewSubscriber(h.mailboxSize)
	h.registry.Register(sub)

	hello, _ := json.Marshal(Message{Event: "connected", Data: map[string]string{"subscriber_id": sub.ID}})
	sub.Send(hello) //nolint:errcheck // fresh mailbox

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// readPump answers client pings until the connection fails, then removes
// the subscriber.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		h.registry.Unregister(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("subscriber_id", sub.ID).Msg("websocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := sub.Send(pongFrame); err != nil {
				return
			}
		}
	}
}

// writePump writes mailbox frames and protocol pings until the subscriber
// is closed or a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-sub.Mailbox():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.registry.Unregister(sub)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.registry.Unregister(sub)
				return
			}
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

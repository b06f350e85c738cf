package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adaharness/ada/internal/event"
)

// pushEnvelope is the JSON shape every /ws/events message is wrapped in.
type pushEnvelope struct {
	Event     event.EventType `json:"event"`
	Data      any             `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvents upgrades to a websocket connection and forwards every bus event
// as a pushEnvelope until the client disconnects or goes silent past the
// configured idle deadline. Client liveness is carried by application-level
// pings (any inbound frame resets the deadline); the server also emits its
// own ping control frames at the configured interval as a belt-and-braces
// keepalive for proxies that buffer data frames.
func (s *Server) wsEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	idleDeadline := s.cfg.IdleDeadline
	if idleDeadline <= 0 {
		idleDeadline = 90 * time.Second
	}
	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	_ = conn.SetReadDeadline(time.Now().Add(idleDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleDeadline))
	})

	events := make(chan event.Event, 32)
	unsub := event.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsub()

	done := make(chan struct{})
	go s.wsReadPump(conn, idleDeadline, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	writeEnvelope := func(e event.Event) error {
		env := pushEnvelope{Event: e.Type, Data: e.Data, Timestamp: time.Now().Unix()}
		data, err := json.Marshal(env)
		if err != nil {
			return nil
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := writeEnvelope(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsReadPump drains inbound frames (the client's application-level pings)
// so the connection's read deadline keeps advancing, and closes done once
// the client disconnects or the deadline lapses.
func (s *Server) wsReadPump(conn *websocket.Conn, idleDeadline time.Duration, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idleDeadline))
	}
}

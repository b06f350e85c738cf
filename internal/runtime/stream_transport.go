package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamTransport dials a long-lived streaming agent endpoint and decodes
// the same Frame schema from its websocket messages, for agents that run as
// a standing service rather than a one-shot subprocess.
type StreamTransport struct {
	URL        string
	DialTimeout time.Duration
}

// Start dials the endpoint and sends req as the initial message.
func (t StreamTransport) Start(ctx context.Context, req Request) (Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.dialTimeout()}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("runtime: dial %s: %w", t.URL, err)
	}

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("runtime: %w", err)
	}

	frames := make(chan Frame, 64)
	s := &streamSession{conn: conn, frames: frames}
	go s.pump()
	return s, nil
}

func (t StreamTransport) dialTimeout() time.Duration {
	if t.DialTimeout > 0 {
		return t.DialTimeout
	}
	return 10 * time.Second
}

type streamSession struct {
	conn     *websocket.Conn
	frames   chan Frame
	waitOnce sync.Once
	waitErr  error
	closeMu  sync.Mutex
}

func (s *streamSession) pump() {
	defer close(s.frames)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.waitOnce.Do(func() { s.waitErr = err })
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.frames <- Frame{Kind: FrameError, Error: fmt.Sprintf("malformed transcript frame: %v", err)}
			continue
		}
		s.frames <- frame
	}
}

func (s *streamSession) Frames() <-chan Frame { return s.frames }

// RequestStop sends a graceful close frame and closes the connection.
func (s *streamSession) RequestStop(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop requested"), deadline)
	return s.conn.Close()
}

// Wait blocks until the websocket connection has closed. Stream transports
// have no process exit code, so it is always reported as 0.
func (s *streamSession) Wait() (int, error) {
	for range s.frames {
		// Drain any frames left in flight so pump's goroutine can exit and
		// set waitErr before we read it.
	}
	err := s.waitErr
	if err != nil && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = nil
	}
	return 0, err
}

package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"avatar-sync/server/internal/state"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Frame is one roster snapshot as sent to viewers.
type Frame struct {
	Tick       uint64       `msgpack:"tick"`
	ServerTime int64        `msgpack:"t"`
	Players    []state.View `msgpack:"players"`
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(frame Frame) ([]byte, error) {
	return msgpack.Marshal(frame)
}

// DecodeFrame parses a frame written by EncodeFrame.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	err := msgpack.Unmarshal(data, &frame)
	return frame, err
}

type session struct {
	conn    *websocket.Conn
	handler *Handler
	closed  chan struct{}
}

func newSession(conn *websocket.Conn, handler *Handler) *session {
	return &session{conn: conn, handler: handler, closed: make(chan struct{})}
}

func (s *session) serve(ctx context.Context) {
	defer s.conn.Close()
	go s.readLoop()
	s.writeLoop(ctx)
}

// readLoop discards viewer messages; it only exists to process control
// frames and notice the close.
func (s *session) readLoop() {
	defer close(s.closed)
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) writeLoop(ctx context.Context) {
	frames := time.NewTicker(s.handler.cfg.Interval)
	defer frames.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	if !s.writeFrame() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-s.closed:
			return
		case <-pings.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-frames.C:
			if !s.writeFrame() {
				return
			}
		}
	}
}

func (s *session) writeFrame() bool {
	data, err := EncodeFrame(s.handler.frame())
	if err != nil {
		s.handler.logf("[ws] encode frame: %v", err)
		return false
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return false
	}
	if s.handler.cfg.Metrics != nil {
		s.handler.cfg.Metrics.Add(framesOutMetricKey, 1)
	}
	return true
}

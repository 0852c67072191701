package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/telemetry"
)

type staticRoster []state.View

func (r staticRoster) Views() []state.View { return r }

func dialViewer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got %d", kind)
	}
	frame, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func TestHandleStreamsRoster(t *testing.T) {
	roster := staticRoster{
		{Handle: 0, Name: "alice", X: 64, Y: 64, Health: 100},
		{Handle: 3, Name: "bob", X: 10, Y: 20, Dead: true},
	}
	metrics := telemetry.NewCounters()
	handler := NewHandler(roster, HandlerConfig{
		Interval: 10 * time.Millisecond,
		Metrics:  metrics,
		Tick:     func() uint64 { return 42 },
	})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn := dialViewer(t, srv)
	frame := readFrame(t, conn)
	if frame.Tick != 42 || frame.ServerTime == 0 {
		t.Fatalf("unexpected frame header %+v", frame)
	}
	if len(frame.Players) != 2 || frame.Players[0] != roster[0] || frame.Players[1] != roster[1] {
		t.Fatalf("expected roster round trip, got %+v", frame.Players)
	}

	// Frames keep coming at the configured interval.
	readFrame(t, conn)
	if metrics.Get(framesOutMetricKey) < 2 {
		t.Fatalf("expected frame counter to advance")
	}
	if handler.Viewers() != 1 || metrics.Get(viewersMetricKey) != 1 {
		t.Fatalf("expected one viewer")
	}
}

func TestHandleReleasesViewerOnClose(t *testing.T) {
	handler := NewHandler(staticRoster{}, HandlerConfig{Interval: 10 * time.Millisecond})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for handler.Viewers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected viewer count to drop after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleRejectsPlainHTTP(t *testing.T) {
	handler := NewHandler(staticRoster{}, HandlerConfig{})
	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-upgrade request, got %d", rec.Code)
	}
}

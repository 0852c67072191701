package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"avatar-sync/server/internal/config"
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/telemetry"
)

func testSettings() config.Config {
	settings := config.Default()
	settings.UDPAddr = "127.0.0.1:0"
	settings.HTTPAddr = "127.0.0.1:0"
	settings.Log.Sinks = nil
	return settings
}

func TestRunServesUntilCancelled(t *testing.T) {
	type addrs struct{ udp, http net.Addr }
	ready := make(chan addrs, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{
			Logger:   telemetry.LoggerFunc(func(string, ...any) {}),
			Settings: testSettings(),
			Ready:    func(u, h net.Addr) { ready <- addrs{u, h} },
		})
	}()

	var bound addrs
	select {
	case bound = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}

	resp, err := http.Get("http://" + bound.http.String() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected health body %q", body)
	}

	conn, err := net.Dial("udp", bound.udp.String())
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer conn.Close()
	join, _ := proto.EncodeJoinRequest(proto.JoinRequest{Name: "tester"})
	conn.Write(join)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, proto.MaxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read accept: %v", err)
	}
	if typ, _ := proto.PeekType(buf[:n]); typ != proto.TypeJoinAccept {
		t.Fatalf("expected join accept, got %s", typ)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.MaxPlayers = 0
	if err := Run(context.Background(), Config{Settings: settings}); err == nil {
		t.Fatalf("expected invalid settings to fail")
	}
}

func TestRunReportsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	settings := testSettings()
	settings.HTTPAddr = busy.Addr().String()
	err = Run(context.Background(), Config{Logger: telemetry.LoggerFunc(func(string, ...any) {}), Settings: settings})
	if err == nil {
		t.Fatalf("expected bind failure")
	}
}

package udp

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"avatar-sync/server/internal/hub"
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/telemetry"
)

const testQuantum = 50 * time.Millisecond

type testServer struct {
	hub     *hub.Hub
	server  *Server
	metrics *telemetry.Counters
}

func startServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	metrics := telemetry.NewCounters()
	deps := sim.Deps{Metrics: metrics}
	h := hub.New(hub.Config{Capacity: capacity, Quantum: testQuantum}, nil, deps)
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(conn, h, ServerConfig{UpdateRate: 50, StatusEvery: 5}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("serve did not return after cancel")
		}
	})
	return &testServer{hub: h, server: srv, metrics: metrics}
}

func dialRaw(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendTo(t *testing.T, conn net.PacketConn, to net.Addr, b []byte) {
	t.Helper()
	if _, err := conn.WriteTo(b, to); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// awaitType reads datagrams until one of type typ arrives.
func awaitType(t *testing.T, conn net.PacketConn, typ proto.Type) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, proto.MaxDatagramSize)
	for {
		conn.SetReadDeadline(deadline)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				t.Fatalf("timed out waiting for %s", typ)
			}
			t.Fatalf("read: %v", err)
		}
		if got, err := proto.PeekType(buf[:n]); err == nil && got == typ {
			return append([]byte(nil), buf[:n]...)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func joinRequest(t *testing.T, name string) []byte {
	t.Helper()
	b, err := proto.EncodeJoinRequest(proto.JoinRequest{Name: name})
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	return b
}

func TestJoinHandshake(t *testing.T) {
	ts := startServer(t, 1)
	client := dialRaw(t)
	addr := ts.server.Addr()

	sendTo(t, client, addr, joinRequest(t, "alice"))
	accept, err := proto.DecodeJoinAccept(awaitType(t, client, proto.TypeJoinAccept))
	if err != nil {
		t.Fatalf("decode accept: %v", err)
	}
	if accept.Participant != 0 || accept.Series != hub.InitialSeries || accept.TickMillis != 50 {
		t.Fatalf("unexpected accept %+v", accept)
	}
	status, err := proto.DecodePlayerStatus(awaitType(t, client, proto.TypePlayerStatus))
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	spawn := ts.hub.Arena().Spawns[0]
	if !status.Connected || float64(status.X) != spawn.X() || float64(status.Y) != spawn.Y() {
		t.Fatalf("expected spawn status, got %+v", status)
	}

	// A lost accept is recovered by asking again.
	sendTo(t, client, addr, joinRequest(t, "alice"))
	again, _ := proto.DecodeJoinAccept(awaitType(t, client, proto.TypeJoinAccept))
	if again != accept {
		t.Fatalf("expected repeated accept %+v, got %+v", accept, again)
	}
	if ts.server.Peers() != 1 || len(ts.hub.Sessions()) != 1 {
		t.Fatalf("expected a single session after duplicate join")
	}
}

func TestJoinRejectedWhenFull(t *testing.T) {
	ts := startServer(t, 1)
	first, second := dialRaw(t), dialRaw(t)
	sendTo(t, first, ts.server.Addr(), joinRequest(t, "alice"))
	awaitType(t, first, proto.TypeJoinAccept)

	sendTo(t, second, ts.server.Addr(), joinRequest(t, "bob"))
	reject, err := proto.DecodeJoinReject(awaitType(t, second, proto.TypeJoinReject))
	if err != nil || reject.Reason != proto.RejectFull {
		t.Fatalf("expected full reject, got %+v %v", reject, err)
	}
	if ts.metrics.Get(joinsRejectedMetricKey) != 1 {
		t.Fatalf("expected reject metric")
	}
}

func TestCommandsReachTheGate(t *testing.T) {
	ts := startServer(t, 2)
	client := dialRaw(t)
	sendTo(t, client, ts.server.Addr(), joinRequest(t, "alice"))
	awaitType(t, client, proto.TypeJoinAccept)

	for seq := uint8(1); seq <= 3; seq++ {
		b, _ := proto.EncodeClientCommand(proto.ClientCommand{Sequence: seq, Series: hub.InitialSeries, Move: state.MoveForward})
		sendTo(t, client, ts.server.Addr(), b)
	}
	eventually(t, "three accepted commands", func() bool {
		sessions := ts.hub.Sessions()
		return len(sessions) == 1 && sessions[0].Stats.Accepted == 3
	})

	stale, _ := proto.EncodeClientCommand(proto.ClientCommand{Sequence: 2, Series: hub.InitialSeries, Move: state.MoveForward})
	sendTo(t, client, ts.server.Addr(), stale)
	eventually(t, "stale rejection", func() bool {
		return ts.hub.Sessions()[0].Stats.Rejected == 1
	})
}

func TestUnknownPeersAndMalformedDatagrams(t *testing.T) {
	ts := startServer(t, 2)
	stranger := dialRaw(t)
	cmd, _ := proto.EncodeClientCommand(proto.ClientCommand{Sequence: 1, Series: 1, Move: state.MoveForward})
	sendTo(t, stranger, ts.server.Addr(), cmd)
	eventually(t, "unknown peer metric", func() bool { return ts.metrics.Get(unknownPeerMetricKey) == 1 })

	sendTo(t, stranger, ts.server.Addr(), []byte{0xee, 1, 2})
	eventually(t, "malformed metric", func() bool { return ts.metrics.Get(malformedMetricKey) == 1 })
	if len(ts.hub.Sessions()) != 0 {
		t.Fatalf("expected no sessions from strangers")
	}
}

func TestLeaveFreesSlot(t *testing.T) {
	ts := startServer(t, 1)
	first, second := dialRaw(t), dialRaw(t)
	sendTo(t, first, ts.server.Addr(), joinRequest(t, "alice"))
	awaitType(t, first, proto.TypeJoinAccept)

	sendTo(t, first, ts.server.Addr(), proto.EncodeLeave())
	eventually(t, "peer removal", func() bool { return ts.server.Peers() == 0 && len(ts.hub.Sessions()) == 0 })

	sendTo(t, second, ts.server.Addr(), joinRequest(t, "bob"))
	accept, _ := proto.DecodeJoinAccept(awaitType(t, second, proto.TypeJoinAccept))
	if accept.Participant != 0 {
		t.Fatalf("expected freed slot 0 to be reused, got %d", accept.Participant)
	}
}

func TestStateUpdatesAreBroadcast(t *testing.T) {
	ts := startServer(t, 2)
	client := dialRaw(t)
	sendTo(t, client, ts.server.Addr(), joinRequest(t, "alice"))
	awaitType(t, client, proto.TypeJoinAccept)

	update, err := proto.DecodeStateUpdate(awaitType(t, client, proto.TypeStateUpdate))
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	spawn := ts.hub.Arena().Spawns[0]
	if update.Participant != 0 || float64(update.X) != spawn.X() || float64(update.Y) != spawn.Y() {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestSilentPeersExpire(t *testing.T) {
	metrics := telemetry.NewCounters()
	deps := sim.Deps{Metrics: metrics}
	h := hub.New(hub.Config{Capacity: 1, Quantum: testQuantum}, nil, deps)
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(conn, h, ServerConfig{UpdateRate: 50, PeerTimeout: 60 * time.Millisecond}, deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	client := dialRaw(t)
	sendTo(t, client, srv.Addr(), joinRequest(t, "alice"))
	awaitType(t, client, proto.TypeJoinAccept)
	eventually(t, "peer expiry", func() bool { return srv.Peers() == 0 && len(h.Sessions()) == 0 })
}

package client

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"avatar-sync/server/internal/hub"
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/net/udp"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/telemetry"
)

const testQuantum = 50 * time.Millisecond

type authority struct {
	hub  *hub.Hub
	addr string
}

func startAuthority(t *testing.T, capacity int) *authority {
	t.Helper()
	deps := sim.Deps{Metrics: telemetry.NewCounters()}
	h := hub.New(hub.Config{Capacity: capacity, Quantum: testQuantum}, nil, deps)
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := udp.NewServer(conn, h, udp.ServerConfig{UpdateRate: 40, StatusEvery: 4}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	loop := sim.NewLoop(h.Simulation(), sim.LoopConfig{}, sim.LoopHooks{})
	go loop.Run(stop)
	served := make(chan struct{})
	go func() {
		defer close(served)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		close(stop)
		<-served
	})
	return &authority{hub: h, addr: srv.Addr().String()}
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, ErrClosed) {
				t.Errorf("run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("client did not stop")
		}
	})
}

func eventually(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientPredictsAndReconciles(t *testing.T) {
	auth := startAuthority(t, 2)
	c, err := Dial(context.Background(), Config{ServerAddr: auth.addr, Name: "bot"}, sim.Deps{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.Quantum() != testQuantum {
		t.Fatalf("expected quantum from accept, got %s", c.Quantum())
	}
	runClient(t, c)

	eventually(t, "spawn", 2*time.Second, c.Spawned)
	eventually(t, "commands at the authority", 3*time.Second, func() bool {
		sessions := auth.hub.Sessions()
		return len(sessions) == 1 && sessions[0].Stats.Accepted >= 20
	})
	eventually(t, "reconciliation", 2*time.Second, func() bool {
		return c.Stats().Reconciled >= 5
	})

	// The local prediction runs ahead of the authority by the commands in
	// flight, never by more than the buffer can hold.
	local := c.Local()
	remote := auth.hub.Views()[0]
	gap := math.Hypot(local.X-remote.X, local.Y-remote.Y)
	if limit := float64(sim.DefaultInputBufferCapacity) * sim.BaseSpeed; gap > limit {
		t.Fatalf("prediction drifted %.2f from the authority (limit %.2f)", gap, limit)
	}
	if stats := auth.hub.Sessions()[0].Stats; stats.Rejected != 0 {
		t.Fatalf("expected no rejected commands over loopback, got %+v", stats)
	}
}

func TestClientSeesOtherPlayers(t *testing.T) {
	auth := startAuthority(t, 2)
	first, err := Dial(context.Background(), Config{ServerAddr: auth.addr, Name: "one"}, sim.Deps{})
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	runClient(t, first)
	second, err := Dial(context.Background(), Config{ServerAddr: auth.addr, Name: "two"}, sim.Deps{})
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	runClient(t, second)

	eventually(t, "both players mirrored", 2*time.Second, func() bool {
		return len(first.Views()) == 2 && len(second.Views()) == 2
	})
}

func TestClientJoinTeamStartsNewSeries(t *testing.T) {
	auth := startAuthority(t, 2)
	c, err := Dial(context.Background(), Config{ServerAddr: auth.addr, Name: "bot"}, sim.Deps{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	runClient(t, c)
	eventually(t, "spawn", 2*time.Second, c.Spawned)

	c.JoinTeam(1)
	eventually(t, "team change", 2*time.Second, func() bool {
		return c.Stats().Series == hub.InitialSeries+1 && c.Local().Team == 1
	})
	eventually(t, "commands under the new series", 2*time.Second, func() bool {
		sessions := auth.hub.Sessions()
		return len(sessions) == 1 && sessions[0].Series == hub.InitialSeries+1 && sessions[0].Authority == sim.Active.String()
	})
}

func TestDialRejectedWhenFull(t *testing.T) {
	auth := startAuthority(t, 1)
	first, err := Dial(context.Background(), Config{ServerAddr: auth.addr, Name: "one"}, sim.Deps{})
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	_, err = Dial(context.Background(), Config{ServerAddr: auth.addr, Name: "two"}, sim.Deps{})
	var rejected *JoinRejectedError
	if !errors.As(err, &rejected) || rejected.Reason != proto.RejectFull {
		t.Fatalf("expected full rejection, got %v", err)
	}
}

func TestDialTimesOutWithoutAuthority(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer silent.Close()

	start := time.Now()
	_, err = Dial(context.Background(), Config{
		ServerAddr:  silent.LocalAddr().String(),
		Name:        "bot",
		JoinTimeout: 150 * time.Millisecond,
		JoinRetry:   40 * time.Millisecond,
	}, sim.Deps{})
	if !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("expected ErrJoinTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("join took %s", elapsed)
	}

	// Every retry reaches the socket.
	silent.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, proto.MaxDatagramSize)
	n, _, err := silent.ReadFrom(buf)
	if err != nil {
		t.Fatalf("expected join requests to have been sent: %v", err)
	}
	if typ, _ := proto.PeekType(buf[:n]); typ != proto.TypeJoinRequest {
		t.Fatalf("expected join request, got %s", typ)
	}
}

func TestDialRejectsInvalidName(t *testing.T) {
	if _, err := Dial(context.Background(), Config{ServerAddr: "127.0.0.1:1", Name: ""}, sim.Deps{}); err == nil {
		t.Fatalf("expected empty name to fail before dialing")
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"avatar-sync/server/internal/net/datagram"
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/world"
)

const (
	// DefaultJoinTimeout bounds the join handshake.
	DefaultJoinTimeout = 5 * time.Second
	// DefaultJoinRetry is the interval between join request retransmissions.
	DefaultJoinRetry = 250 * time.Millisecond
	// DefaultPingInterval keeps the session alive while no commands flow.
	DefaultPingInterval = time.Second

	reconciledMetricKey = "client_reconciled_total"
	staleUpdateKey      = "client_stale_updates_total"
)

var (
	// ErrJoinTimeout is returned when the authority never answered.
	ErrJoinTimeout = errors.New("client: join timed out")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("client: closed")
)

// JoinRejectedError reports why the authority refused the join.
type JoinRejectedError struct {
	Reason uint8
}

func (e *JoinRejectedError) Error() string {
	switch e.Reason {
	case proto.RejectFull:
		return "client: join rejected: server full"
	case proto.RejectInvalidName:
		return "client: join rejected: invalid name"
	default:
		return fmt.Sprintf("client: join rejected: reason %d", e.Reason)
	}
}

// ControllerFactory builds the controller for the local player.
type ControllerFactory func(*state.Player) sim.Controller

// Config tunes the client.
type Config struct {
	ServerAddr       string
	Name             string
	Arena            *world.Arena
	Controller       ControllerFactory
	JoinTimeout      time.Duration
	JoinRetry        time.Duration
	PingInterval     time.Duration
	PredictionBuffer int
	CatchupMaxTicks  int
	Impair           datagram.Config
}

// Client joins an authority, predicts the local player and mirrors the rest.
type Client struct {
	conn   net.Conn
	cfg    Config
	deps   sim.Deps
	impair *datagram.Impairer

	handle    state.Handle
	quantum   time.Duration
	table     *state.Table
	sim       *sim.Simulation
	predictor *sim.Predictor
	local     *state.Player
	spawned   bool

	closeOnce sync.Once
	closed    chan struct{}
	stale     atomic.Uint64
}

// Dial joins the authority at cfg.ServerAddr.
func Dial(ctx context.Context, cfg Config, deps sim.Deps) (*Client, error) {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.JoinRetry <= 0 {
		cfg.JoinRetry = DefaultJoinRetry
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Arena == nil {
		cfg.Arena = world.DefaultArena()
	}
	if cfg.Controller == nil {
		cfg.Controller = func(p *state.Player) sim.Controller { return sim.NewAIController(p) }
	}
	request, err := proto.EncodeJoinRequest(proto.JoinRequest{Name: cfg.Name})
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("udp", cfg.ServerAddr)
	if err != nil {
		return nil, err
	}
	accept, err := join(ctx, conn, request, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	quantum := time.Duration(accept.TickMillis) * time.Millisecond
	table := state.NewTable(state.MaxPlayers)
	handle := state.Handle(accept.Participant)
	if err := table.Claim(handle); err != nil {
		conn.Close()
		return nil, fmt.Errorf("claim %s: %w", handle, err)
	}
	local, _ := table.Get(handle)
	local.SetName(cfg.Name)

	motion := sim.NewMotion(quantum, world.NewResolver(cfg.Arena))
	c := &Client{
		conn:      conn,
		cfg:       cfg,
		deps:      deps,
		impair:    datagram.NewImpairer(cfg.Impair),
		handle:    handle,
		quantum:   quantum,
		table:     table,
		sim:       sim.New(table, motion, sim.Config{Quantum: quantum}, deps),
		predictor: sim.NewPredictor(local, motion, sim.NewInputBuffer(cfg.PredictionBuffer, deps.Metrics), accept.Series),
		local:     local,
		closed:    make(chan struct{}),
	}
	c.logf("[client] joined as %s series=%d tick=%s", handle, accept.Series, quantum)
	return c, nil
}

func join(ctx context.Context, conn net.Conn, request []byte, cfg Config) (proto.JoinAccept, error) {
	deadline := time.Now().Add(cfg.JoinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	buf := make([]byte, proto.MaxDatagramSize)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return proto.JoinAccept{}, err
		}
		if _, err := conn.Write(request); err != nil {
			return proto.JoinAccept{}, err
		}
		wait := time.Now().Add(cfg.JoinRetry)
		if wait.After(deadline) {
			wait = deadline
		}
		conn.SetReadDeadline(wait)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					break
				}
				// ICMP refusals surface as read errors until the server is up.
				time.Sleep(time.Until(wait))
				break
			}
			typ, err := proto.PeekType(buf[:n])
			if err != nil {
				continue
			}
			switch typ {
			case proto.TypeJoinAccept:
				accept, err := proto.DecodeJoinAccept(buf[:n])
				if err != nil {
					continue
				}
				conn.SetReadDeadline(time.Time{})
				return accept, nil
			case proto.TypeJoinReject:
				reject, err := proto.DecodeJoinReject(buf[:n])
				if err != nil {
					continue
				}
				return proto.JoinAccept{}, &JoinRejectedError{Reason: reject.Reason}
			}
		}
	}
	return proto.JoinAccept{}, ErrJoinTimeout
}

// Run simulates and exchanges datagrams until ctx is done or Close is called.
func (c *Client) Run(ctx context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.receiveLoop()
	}()
	loop := sim.NewLoop(c.sim, sim.LoopConfig{CatchupMaxTicks: c.cfg.CatchupMaxTicks}, sim.LoopHooks{AfterStep: c.afterStep})
	go func() {
		defer wg.Done()
		loop.Run(stop)
	}()

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	var err error
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-c.closed:
			err = ErrClosed
			running = false
		case <-ping.C:
			c.send(proto.EncodePing())
		}
	}
	close(stop)
	c.send(proto.EncodeLeave())
	c.Close()
	wg.Wait()
	return err
}

// Close releases the socket. Run returns shortly after.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) afterStep(res sim.LoopStepResult) {
	for _, issued := range res.Issued {
		b, err := proto.EncodeClientCommand(issued.Command.Wire())
		if err != nil {
			c.logf("[client] encode command %d: %v", issued.Command.Sequence, err)
			continue
		}
		c.send(b)
	}
}

func (c *Client) receiveLoop() {
	buf := make([]byte, proto.MaxDatagramSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		c.handleDatagram(buf[:n])
	}
}

func (c *Client) handleDatagram(b []byte) {
	typ, err := proto.PeekType(b)
	if err != nil {
		return
	}
	switch typ {
	case proto.TypeStateUpdate:
		update, err := proto.DecodeStateUpdate(b)
		if err != nil {
			return
		}
		c.applyUpdate(update)
	case proto.TypePlayerStatus:
		status, err := proto.DecodePlayerStatus(b)
		if err != nil {
			return
		}
		c.applyStatus(status)
	}
}

func (c *Client) applyUpdate(u proto.StateUpdate) {
	pos := mgl64.Vec2{float64(u.X), float64(u.Y)}
	h := state.Handle(u.Participant)
	if h == c.handle {
		applied := false
		c.sim.Locked(func() {
			if !c.spawned {
				return
			}
			applied = c.predictor.Reconcile(u.Ack, pos, float64(u.Orientation))
		})
		if applied {
			c.metricAdd(reconciledMetricKey, 1)
		} else {
			c.stale.Add(1)
			c.metricAdd(staleUpdateKey, 1)
		}
		return
	}
	c.sim.Locked(func() {
		p, ok := c.table.Get(h)
		if !ok {
			return
		}
		p.Place(pos)
		p.SetOrientation(float64(u.Orientation))
		p.Publish()
	})
}

func (c *Client) applyStatus(s proto.PlayerStatus) {
	h := state.Handle(s.Participant)
	pos := mgl64.Vec2{float64(s.X), float64(s.Y)}
	if h == c.handle {
		c.applyOwnStatus(s, pos)
		return
	}
	c.sim.Locked(func() {
		if !s.Connected {
			c.table.Release(h)
			return
		}
		p, ok := c.table.Get(h)
		if !ok {
			if err := c.table.Claim(h); err != nil {
				return
			}
			p, _ = c.table.Get(h)
		}
		p.SetTeam(s.Team)
		switch {
		case s.Health <= 0:
			p.SetHealth(0)
		case p.IsDead():
			p.Respawn(pos, float64(s.Orientation))
		default:
			p.SetHealth(float64(s.Health))
			p.Place(pos)
		}
		p.Publish()
	})
}

func (c *Client) applyOwnStatus(s proto.PlayerStatus, pos mgl64.Vec2) {
	attach := false
	c.sim.Locked(func() {
		if !c.spawned || s.Series != c.predictor.Series() {
			c.predictor.Reset(s.Series)
			c.local.Respawn(pos, float64(s.Orientation))
			attach = !c.spawned
			c.spawned = true
		}
		c.local.SetTeam(s.Team)
		c.local.SetHealth(float64(s.Health))
		c.local.Publish()
	})
	if attach {
		c.sim.Attach(sim.Participant{
			Handle:     c.handle,
			Controller: c.cfg.Controller(c.local),
			Predictor:  c.predictor,
		})
	}
}

// JoinTeam asks the authority to move the local player to team.
func (c *Client) JoinTeam(team uint8) {
	b, _ := proto.EncodeJoinTeam(proto.JoinTeam{Team: team})
	c.send(b)
}

// Handle returns the local participant id.
func (c *Client) Handle() state.Handle { return c.handle }

// Quantum returns the authority's tick length.
func (c *Client) Quantum() time.Duration { return c.quantum }

// Local returns the last published view of the local player.
func (c *Client) Local() state.View { return c.local.View() }

// Views returns every known player.
func (c *Client) Views() []state.View { return c.table.Views() }

// Spawned reports whether the authority has placed the local player.
func (c *Client) Spawned() bool {
	var spawned bool
	c.sim.Locked(func() { spawned = c.spawned })
	return spawned
}

// Stats summarizes reconciliation work.
type Stats struct {
	sim.PredictionStats
	Series       uint8          `json:"series"`
	StaleUpdates uint64         `json:"staleUpdates"`
	Impairment   datagram.Stats `json:"impairment"`
}

// Stats returns the client counters.
func (c *Client) Stats() Stats {
	var stats Stats
	c.sim.Locked(func() {
		stats.PredictionStats = c.predictor.Stats()
		stats.Series = c.predictor.Series()
	})
	stats.StaleUpdates = c.stale.Load()
	stats.Impairment = c.impair.Stats()
	return stats
}

func (c *Client) send(b []byte) {
	c.impair.Apply(b, func(d []byte) {
		c.conn.Write(d)
	})
}

func (c *Client) logf(format string, args ...any) {
	if c.deps.Logger != nil {
		c.deps.Logger.Printf(format, args...)
	}
}

func (c *Client) metricAdd(key string, delta uint64) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add(key, delta)
	}
}

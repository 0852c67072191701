package udp

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"avatar-sync/server/internal/hub"
	"avatar-sync/server/internal/net/datagram"
	"avatar-sync/server/internal/net/intake"
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/logging"
	"avatar-sync/server/logging/network"
)

const (
	// DefaultUpdateRate is how many state update rounds are sent per second.
	DefaultUpdateRate = 20
	// DefaultStatusEvery is how many update rounds pass between full status
	// broadcasts.
	DefaultStatusEvery = 10
	// DefaultPeerTimeout drops peers that stay silent for this long.
	DefaultPeerTimeout = 10 * time.Second

	readBufferSize = 2048

	datagramsInMetricKey   = "udp_datagrams_in_total"
	datagramsOutMetricKey  = "udp_datagrams_out_total"
	malformedMetricKey     = "udp_malformed_total"
	unknownPeerMetricKey   = "udp_unknown_peer_total"
	peersMetricKey         = "udp_peers"
	joinsRejectedMetricKey = "udp_joins_rejected_total"
)

// ServerConfig tunes the authority transport.
type ServerConfig struct {
	UpdateRate  int
	StatusEvery int
	PeerTimeout time.Duration
	Impair      datagram.Config
}

type peer struct {
	addr     net.Addr
	key      string
	handle   state.Handle
	lastSeen time.Time
}

// Server exchanges datagrams between remote clients and the hub.
type Server struct {
	conn   net.PacketConn
	hub    *hub.Hub
	cfg    ServerConfig
	deps   sim.Deps
	impair *datagram.Impairer

	mu    sync.Mutex
	peers map[string]*peer
}

// Listen binds a UDP socket and wraps it in a Server.
func Listen(addr string, h *hub.Hub, cfg ServerConfig, deps sim.Deps) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(conn, h, cfg, deps), nil
}

// NewServer serves the hub over conn.
func NewServer(conn net.PacketConn, h *hub.Hub, cfg ServerConfig, deps sim.Deps) *Server {
	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = DefaultUpdateRate
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = DefaultStatusEvery
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	return &Server{
		conn:   conn,
		hub:    h,
		cfg:    cfg,
		deps:   deps,
		impair: datagram.NewImpairer(cfg.Impair),
		peers:  make(map[string]*peer),
	}
}

// Close releases the socket without serving.
func (s *Server) Close() error { return s.conn.Close() }

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Serve receives datagrams and broadcasts state until ctx is done. The
// connection is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.conn.Close()
	}()
	go func() {
		defer wg.Done()
		s.broadcastLoop(ctx)
	}()

	err := s.receiveLoop(ctx)
	cancel()
	wg.Wait()
	return err
}

func (s *Server) receiveLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logf("[udp] read failed: %v", err)
			continue
		}
		s.metricAdd(datagramsInMetricKey, 1)
		s.handleDatagram(addr, append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) handleDatagram(addr net.Addr, b []byte) {
	key := addr.String()
	typ, err := proto.PeekType(b)
	if err != nil {
		s.reportMalformed(key, state.Handle(0), len(b), err)
		return
	}

	p := s.touch(key)
	if typ == proto.TypeJoinRequest {
		s.handleJoin(addr, key, p, b)
		return
	}
	if p == nil {
		s.metricAdd(unknownPeerMetricKey, 1)
		return
	}

	switch typ {
	case proto.TypeClientCommand:
		intake.StageClientCommand(intake.CommandContext{
			Gate:      s.hub,
			Remote:    key,
			Tick:      s.hub.Simulation().Frame,
			Metrics:   s.deps.Metrics,
			Publisher: s.deps.Publisher,
		}, p.handle, b)
	case proto.TypeJoinTeam:
		msg, err := proto.DecodeJoinTeam(b)
		if err != nil {
			s.reportMalformed(key, p.handle, len(b), err)
			return
		}
		if err := s.hub.JoinTeam(p.handle, msg.Team); err != nil {
			s.logf("[udp] %s join team %d: %v", p.handle, msg.Team, err)
		}
	case proto.TypeLeave:
		s.dropPeer(p, "leave")
	case proto.TypePing:
	default:
		s.reportMalformed(key, p.handle, len(b), errors.New("unexpected "+typ.String()))
	}
}

func (s *Server) handleJoin(addr net.Addr, key string, existing *peer, b []byte) {
	if existing != nil {
		// The accept was lost; repeat it.
		status := s.hub.Status(existing.handle)
		s.sendAccept(addr, existing.handle, status.Series)
		return
	}
	msg, err := proto.DecodeJoinRequest(b)
	if err != nil {
		s.reportMalformed(key, 0, len(b), err)
		s.reject(addr, proto.RejectInvalidName)
		return
	}
	res, err := s.hub.Join(msg.Name, key)
	switch {
	case errors.Is(err, state.ErrTableFull):
		s.reject(addr, proto.RejectFull)
		return
	case errors.Is(err, state.ErrInvalidName):
		s.reject(addr, proto.RejectInvalidName)
		return
	case err != nil:
		s.logf("[udp] join from %s failed: %v", key, err)
		return
	}

	p := &peer{addr: addr, key: key, handle: res.Handle, lastSeen: s.now()}
	s.mu.Lock()
	s.peers[key] = p
	count := len(s.peers)
	s.mu.Unlock()
	s.metricStore(peersMetricKey, uint64(count))

	s.sendAccept(addr, res.Handle, res.Series)
	for _, status := range s.hub.Statuses() {
		s.sendStatus(addr, status)
	}
}

func (s *Server) sendAccept(addr net.Addr, handle state.Handle, series uint8) {
	b, _ := proto.EncodeJoinAccept(proto.JoinAccept{
		Participant: uint8(handle),
		Series:      series,
		TickMillis:  uint16(s.hub.Quantum() / time.Millisecond),
	})
	s.send(addr, b)
}

func (s *Server) reject(addr net.Addr, reason uint8) {
	s.metricAdd(joinsRejectedMetricKey, 1)
	b, _ := proto.EncodeJoinReject(proto.JoinReject{Reason: reason})
	s.send(addr, b)
}

func (s *Server) sendStatus(addr net.Addr, status proto.PlayerStatus) {
	b, _ := proto.EncodePlayerStatus(status)
	s.send(addr, b)
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.UpdateRate))
	defer ticker.Stop()
	round := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			round++
			s.expirePeers()
			s.broadcastRound(round%s.cfg.StatusEvery == 0)
		}
	}
}

// broadcastRound sends every peer the state updates, the statuses that
// changed since the last round and, when full is set, every status.
func (s *Server) broadcastRound(full bool) {
	targets := s.addrs()
	if len(targets) == 0 {
		s.hub.DrainDirty()
		return
	}

	var statuses []proto.PlayerStatus
	if full {
		s.hub.DrainDirty()
		statuses = s.hub.Statuses()
	} else {
		for _, handle := range s.hub.DrainDirty() {
			statuses = append(statuses, s.hub.Status(handle))
		}
	}
	datagrams := make([][]byte, 0, len(statuses)+state.MaxPlayers)
	for _, status := range statuses {
		b, _ := proto.EncodePlayerStatus(status)
		datagrams = append(datagrams, b)
	}
	for _, update := range s.hub.StateUpdates() {
		b, _ := proto.EncodeStateUpdate(update)
		datagrams = append(datagrams, b)
	}
	for _, addr := range targets {
		for _, b := range datagrams {
			s.send(addr, b)
		}
	}
}

func (s *Server) send(addr net.Addr, b []byte) {
	s.impair.Apply(b, func(d []byte) {
		if _, err := s.conn.WriteTo(d, addr); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logf("[udp] write to %s failed: %v", addr, err)
			}
			return
		}
		s.metricAdd(datagramsOutMetricKey, 1)
	})
}

func (s *Server) touch(key string) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[key]
	if !ok {
		return nil
	}
	p.lastSeen = s.now()
	copied := *p
	return &copied
}

func (s *Server) addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].handle < peers[j].handle })
	addrs := make([]net.Addr, len(peers))
	for i, p := range peers {
		addrs[i] = p.addr
	}
	return addrs
}

func (s *Server) expirePeers() {
	now := s.now()
	var expired []*peer
	s.mu.Lock()
	for _, p := range s.peers {
		if now.Sub(p.lastSeen) > s.cfg.PeerTimeout {
			copied := *p
			expired = append(expired, &copied)
		}
	}
	s.mu.Unlock()
	for _, p := range expired {
		network.PeerTimedOut(context.Background(), s.deps.Publisher, s.hub.Simulation().Frame(), actorRef(p.handle), network.PeerTimedOutPayload{
			Remote:       p.key,
			SilentMillis: now.Sub(p.lastSeen).Milliseconds(),
		}, nil)
		s.dropPeer(p, "timeout")
	}
}

func (s *Server) dropPeer(p *peer, reason string) {
	s.mu.Lock()
	current, ok := s.peers[p.key]
	if !ok || current.handle != p.handle {
		s.mu.Unlock()
		return
	}
	delete(s.peers, p.key)
	count := len(s.peers)
	s.mu.Unlock()
	s.metricStore(peersMetricKey, uint64(count))
	if err := s.hub.Leave(p.handle, reason); err != nil {
		s.logf("[udp] leave %s: %v", p.handle, err)
	}
}

// Peers reports the number of joined peers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// ImpairStats returns the outgoing channel impairment counters.
func (s *Server) ImpairStats() datagram.Stats { return s.impair.Stats() }

func (s *Server) reportMalformed(remote string, handle state.Handle, size int, err error) {
	s.metricAdd(malformedMetricKey, 1)
	network.MalformedPacket(context.Background(), s.deps.Publisher, s.hub.Simulation().Frame(), actorRef(handle), network.MalformedPacketPayload{
		Remote: remote,
		Size:   size,
		Error:  err.Error(),
	}, nil)
}

func (s *Server) now() time.Time {
	if s.deps.Clock == nil {
		return time.Now()
	}
	return s.deps.Clock.Now()
}

func (s *Server) logf(format string, args ...any) {
	if s.deps.Logger != nil {
		s.deps.Logger.Printf(format, args...)
	}
}

func (s *Server) metricAdd(key string, delta uint64) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Add(key, delta)
	}
}

func (s *Server) metricStore(key string, value uint64) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Store(key, value)
	}
}

func actorRef(handle state.Handle) logging.EntityRef {
	return logging.EntityRef{ID: handle.String(), Kind: logging.EntityKindPlayer}
}

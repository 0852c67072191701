package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/world"
	"avatar-sync/server/logging"
	"avatar-sync/server/logging/lifecycle"
	"avatar-sync/server/logging/network"
)

const (
	// DefaultTeams is the number of selectable teams.
	DefaultTeams = 2
	// InitialSeries is the series handed out on join.
	InitialSeries = 1

	sessionsMetricKey       = "hub_sessions"
	synthesizedMetricKey    = "hub_input_synthesized_total"
	resyncMetricKey         = "hub_series_resync_total"
	commandsAcceptedKey     = "hub_commands_accepted_total"
	playerDeathsMetricKey   = "hub_player_deaths_total"
	playerRespawnsMetricKey = "hub_player_respawns_total"
)

var (
	// ErrUnknownSession is returned for handles without a joined session.
	ErrUnknownSession = errors.New("hub: unknown session")
	// ErrInvalidTeam is returned for team numbers outside the configured range.
	ErrInvalidTeam = errors.New("hub: invalid team")
)

// Config tunes the authority.
type Config struct {
	Capacity        int
	Quantum         time.Duration
	PlayerCollision bool
	MaxIterations   int
	Teams           uint8
}

// Session is one remote participant.
type Session struct {
	Handle   state.Handle
	Name     string
	Remote   string
	TraceID  string
	JoinedAt time.Time

	gate *sim.NetworkController
}

// SessionInfo is a read-only view of a session for diagnostics.
type SessionInfo struct {
	state.View
	Remote    string             `json:"remote"`
	TraceID   string             `json:"traceId"`
	JoinedAt  time.Time          `json:"joinedAt"`
	Series    uint8              `json:"series"`
	Authority string             `json:"authority"`
	Stats     sim.AuthorityStats `json:"stats"`
}

// JoinResult is returned to a joining client.
type JoinResult struct {
	Handle  state.Handle
	Series  uint8
	TraceID string
}

// Hub is the authoritative side of a session: it owns the player table, the
// simulation and one NetworkController per remote participant.
type Hub struct {
	cfg   Config
	table *state.Table
	arena *world.Arena
	sim   *sim.Simulation
	deps  sim.Deps

	// mu nests inside the simulation lock, never around it.
	mu       sync.Mutex
	sessions map[state.Handle]*Session
	spawns   atomic.Uint64

	dirtyMu sync.Mutex
	dirty   map[state.Handle]struct{}
}

// New creates a hub over the arena.
func New(cfg Config, arena *world.Arena, deps sim.Deps) *Hub {
	if cfg.Teams == 0 {
		cfg.Teams = DefaultTeams
	}
	if arena == nil {
		arena = world.DefaultArena()
	}
	resolver := world.NewResolver(arena)
	if cfg.MaxIterations > 0 {
		resolver.MaxIterations = cfg.MaxIterations
	}
	table := state.NewTable(cfg.Capacity)
	motion := sim.NewMotion(cfg.Quantum, resolver)
	simulation := sim.New(table, motion, sim.Config{Quantum: cfg.Quantum, PlayerCollision: cfg.PlayerCollision}, deps)
	return &Hub{
		cfg:      cfg,
		table:    table,
		arena:    arena,
		sim:      simulation,
		deps:     deps,
		sessions: make(map[state.Handle]*Session),
		dirty:    make(map[state.Handle]struct{}),
	}
}

// Simulation returns the authoritative simulation.
func (h *Hub) Simulation() *sim.Simulation { return h.sim }

// Quantum returns the tick length.
func (h *Hub) Quantum() time.Duration { return h.sim.Quantum() }

// Arena returns the static geometry.
func (h *Hub) Arena() *world.Arena { return h.arena }

// Join allocates a slot, spawns the player and opens a session. Slots are
// allocated and released with the simulation locked, since both reset every
// player field.
func (h *Hub) Join(name, remote string) (JoinResult, error) {
	session := &Session{
		Remote:   remote,
		TraceID:  uuid.NewString(),
		JoinedAt: h.now(),
	}
	var (
		player *state.Player
		spawn  mgl64.Vec2
		err    error
	)
	h.sim.Locked(func() {
		session.Handle, err = h.table.Allocate()
		if err != nil {
			return
		}
		player, _ = h.table.Get(session.Handle)
		if err = player.SetName(name); err != nil {
			h.table.Release(session.Handle)
			return
		}
		spawn = h.nextSpawn()
		session.Name = player.Name()
		session.gate = sim.NewNetworkController(player, InitialSeries, h.authorityHooks(session))
		player.SetTeam(uint8(int(session.Handle) % int(h.cfg.Teams)))
		player.Respawn(spawn, 0)
		player.Publish()
	})
	if err != nil {
		return JoinResult{}, err
	}
	handle := session.Handle
	if err := h.sim.Attach(sim.Participant{Handle: handle, Controller: session.gate}); err != nil {
		h.release(handle)
		return JoinResult{}, fmt.Errorf("attach %s: %w", handle, err)
	}

	h.mu.Lock()
	h.sessions[handle] = session
	count := len(h.sessions)
	h.mu.Unlock()
	if h.deps.Metrics != nil {
		h.deps.Metrics.Store(sessionsMetricKey, uint64(count))
	}
	h.markDirty(handle)

	lifecycle.PlayerJoined(context.Background(), h.traced(session), h.sim.Frame(), actorRef(handle), lifecycle.PlayerJoinedPayload{
		Name:   session.Name,
		Remote: remote,
		SpawnX: spawn.X(),
		SpawnY: spawn.Y(),
	}, nil)
	return JoinResult{Handle: handle, Series: InitialSeries, TraceID: session.TraceID}, nil
}

// Leave closes the session and frees its slot.
func (h *Hub) Leave(handle state.Handle, reason string) error {
	h.mu.Lock()
	session, ok := h.sessions[handle]
	delete(h.sessions, handle)
	count := len(h.sessions)
	h.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	h.sim.Detach(handle)
	if err := h.release(handle); err != nil {
		return err
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.Store(sessionsMetricKey, uint64(count))
	}
	h.markDirty(handle)
	lifecycle.PlayerLeft(context.Background(), h.traced(session), h.sim.Frame(), actorRef(handle), lifecycle.PlayerLeftPayload{Reason: reason}, nil)
	return nil
}

// HandleCommand runs a raw command datagram through the session's gate.
func (h *Hub) HandleCommand(handle state.Handle, raw []byte) (sim.Command, error) {
	session, ok := h.session(handle)
	if !ok {
		return sim.Command{}, ErrUnknownSession
	}
	var (
		cmd sim.Command
		err error
	)
	h.sim.Locked(func() {
		cmd, err = session.gate.ProcessCommand(raw)
	})
	if err == nil && h.deps.Metrics != nil {
		h.deps.Metrics.Add(commandsAcceptedKey, 1)
	}
	return cmd, err
}

// JoinTeam moves the player to team and respawns it under a new series.
func (h *Hub) JoinTeam(handle state.Handle, team uint8) error {
	if team >= h.cfg.Teams {
		return fmt.Errorf("%w: %d", ErrInvalidTeam, team)
	}
	return h.respawn(handle, &team)
}

// Respawn revives the player at the next spawn point under a new series.
func (h *Hub) Respawn(handle state.Handle) error {
	return h.respawn(handle, nil)
}

func (h *Hub) respawn(handle state.Handle, team *uint8) error {
	session, ok := h.session(handle)
	if !ok {
		return ErrUnknownSession
	}
	var payload lifecycle.PlayerRespawnedPayload
	h.sim.Locked(func() {
		var player *state.Player
		player, ok = h.livePlayer(session)
		if !ok {
			return
		}
		spawn := h.nextSpawn()
		if team != nil {
			player.SetTeam(*team)
		}
		series := session.gate.ResetSeries()
		player.Respawn(spawn, 0)
		player.Publish()
		payload = lifecycle.PlayerRespawnedPayload{Team: player.Team(), Series: series, SpawnX: spawn.X(), SpawnY: spawn.Y()}
	})
	if !ok {
		return ErrUnknownSession
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.Add(playerRespawnsMetricKey, 1)
	}
	h.markDirty(handle)
	lifecycle.PlayerRespawned(context.Background(), h.traced(session), h.sim.Frame(), actorRef(handle), payload, nil)
	return nil
}

// Damage removes health from a living player and reports whether it died.
func (h *Hub) Damage(handle state.Handle, amount float64) (bool, error) {
	session, ok := h.session(handle)
	if !ok {
		return false, ErrUnknownSession
	}
	died := false
	h.sim.Locked(func() {
		var player *state.Player
		player, ok = h.livePlayer(session)
		if !ok || player.IsDead() {
			return
		}
		player.GiveHealth(-amount)
		player.Publish()
		died = player.IsDead()
	})
	if !ok {
		return false, ErrUnknownSession
	}
	h.markDirty(handle)
	if died {
		if h.deps.Metrics != nil {
			h.deps.Metrics.Add(playerDeathsMetricKey, 1)
		}
		lifecycle.PlayerDied(context.Background(), h.traced(session), h.sim.Frame(), actorRef(handle), lifecycle.PlayerDiedPayload{Damage: amount}, nil)
	}
	return died, nil
}

// StateUpdates returns the authoritative pose of every session, in handle
// order, each tagged with the last command applied for it.
func (h *Hub) StateUpdates() []proto.StateUpdate {
	sessions := h.sortedSessions()
	updates := make([]proto.StateUpdate, 0, len(sessions))
	h.sim.Locked(func() {
		for _, session := range sessions {
			player, ok := h.livePlayer(session)
			if !ok {
				continue
			}
			ack, _ := session.gate.Ack()
			pos := player.Position()
			updates = append(updates, proto.StateUpdate{
				Participant: uint8(session.Handle),
				Ack:         ack,
				X:           float32(pos.X()),
				Y:           float32(pos.Y()),
				Orientation: float32(player.Orientation()),
			})
		}
	})
	return updates
}

// Status returns the status datagram for handle. Free slots report
// Connected false.
func (h *Hub) Status(handle state.Handle) proto.PlayerStatus {
	session, ok := h.session(handle)
	if !ok {
		return proto.PlayerStatus{Participant: uint8(handle)}
	}
	var status proto.PlayerStatus
	h.sim.Locked(func() {
		status = h.statusLocked(session)
	})
	return status
}

// Statuses returns the status of every session in handle order.
func (h *Hub) Statuses() []proto.PlayerStatus {
	sessions := h.sortedSessions()
	statuses := make([]proto.PlayerStatus, 0, len(sessions))
	h.sim.Locked(func() {
		for _, session := range sessions {
			statuses = append(statuses, h.statusLocked(session))
		}
	})
	return statuses
}

func (h *Hub) statusLocked(session *Session) proto.PlayerStatus {
	status := proto.PlayerStatus{Participant: uint8(session.Handle), Series: session.gate.Series()}
	player, ok := h.livePlayer(session)
	if !ok {
		return status
	}
	pos := player.Position()
	status.Team = player.Team()
	status.Health = float32(player.Health())
	status.Connected = true
	status.X = float32(pos.X())
	status.Y = float32(pos.Y())
	status.Orientation = float32(player.Orientation())
	return status
}

// DrainDirty returns, in order, the handles whose status changed since the
// previous call.
func (h *Hub) DrainDirty() []state.Handle {
	h.dirtyMu.Lock()
	defer h.dirtyMu.Unlock()
	if len(h.dirty) == 0 {
		return nil
	}
	handles := make([]state.Handle, 0, len(h.dirty))
	for handle := range h.dirty {
		handles = append(handles, handle)
	}
	h.dirty = make(map[state.Handle]struct{})
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Views returns the last published view of every connected player.
func (h *Hub) Views() []state.View {
	return h.table.Views()
}

// Sessions returns diagnostics for every session.
func (h *Hub) Sessions() []SessionInfo {
	sessions := h.sortedSessions()
	infos := make([]SessionInfo, 0, len(sessions))
	h.sim.Locked(func() {
		for _, session := range sessions {
			player, ok := h.livePlayer(session)
			if !ok {
				continue
			}
			infos = append(infos, SessionInfo{
				View:      player.View(),
				Remote:    session.Remote,
				TraceID:   session.TraceID,
				JoinedAt:  session.JoinedAt,
				Series:    session.gate.Series(),
				Authority: session.gate.State().String(),
				Stats:     session.gate.Stats(),
			})
		}
	})
	return infos
}

// Lookup returns the session bound to handle.
func (h *Hub) Lookup(handle state.Handle) (Session, bool) {
	session, ok := h.session(handle)
	if !ok {
		return Session{}, false
	}
	return *session, true
}

func (h *Hub) session(handle state.Handle) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[handle]
	return session, ok
}

// livePlayer returns the session's player while the session is still open.
// Call it with the simulation locked.
func (h *Hub) livePlayer(session *Session) (*state.Player, bool) {
	h.mu.Lock()
	current, ok := h.sessions[session.Handle]
	h.mu.Unlock()
	if !ok || current != session {
		return nil, false
	}
	return h.table.Get(session.Handle)
}

func (h *Hub) release(handle state.Handle) error {
	var err error
	h.sim.Locked(func() {
		err = h.table.Release(handle)
	})
	return err
}

func (h *Hub) sortedSessions() []*Session {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.Unlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Handle < sessions[j].Handle })
	return sessions
}

func (h *Hub) authorityHooks(session *Session) sim.AuthorityHooks {
	return sim.AuthorityHooks{
		OnSynthesize: func(seq uint8) {
			if h.deps.Metrics != nil {
				h.deps.Metrics.Add(synthesizedMetricKey, 1)
			}
			network.InputSynthesized(context.Background(), h.traced(session), h.sim.Frame(), actorRef(session.Handle), network.InputSynthesizedPayload{
				Sequence: seq,
				Series:   session.gate.Series(),
			}, nil)
		},
		OnResync: func(uint8) {
			if h.deps.Metrics != nil {
				h.deps.Metrics.Add(resyncMetricKey, 1)
			}
			h.markDirty(session.Handle)
		},
	}
}

func (h *Hub) markDirty(handle state.Handle) {
	h.dirtyMu.Lock()
	h.dirty[handle] = struct{}{}
	h.dirtyMu.Unlock()
}

func (h *Hub) nextSpawn() mgl64.Vec2 {
	n := h.spawns.Add(1) - 1
	if len(h.arena.Spawns) == 0 {
		return mgl64.Vec2{}
	}
	return h.arena.Spawns[n%uint64(len(h.arena.Spawns))]
}

func (h *Hub) now() time.Time {
	if h.deps.Clock == nil {
		return time.Now()
	}
	return h.deps.Clock.Now()
}

func (h *Hub) publisher() logging.Publisher {
	if h.deps.Publisher == nil {
		return logging.NopPublisher()
	}
	return h.deps.Publisher
}

// traced stamps events with the session's trace id.
func (h *Hub) traced(session *Session) logging.Publisher {
	return logging.WithTrace(h.publisher(), session.TraceID)
}

func actorRef(handle state.Handle) logging.EntityRef {
	return logging.EntityRef{ID: handle.String(), Kind: logging.EntityKindPlayer}
}

package sim

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/world"
	"avatar-sync/server/logging"
	simlog "avatar-sync/server/logging/simulation"
)

const (
	collisionUnresolvedMetricKey = "sim_collision_unresolved_total"
	ticksMetricKey               = "sim_ticks_total"
	participantsMetricKey        = "sim_participants"
)

// ErrNotConnected is returned when attaching a handle that is not in use.
var ErrNotConnected = errors.New("sim: player slot not connected")

// Config tunes the simulation.
type Config struct {
	Quantum time.Duration
	// PlayerCollision separates overlapping players after each Advance.
	PlayerCollision bool
}

// Participant binds a controller, and optionally a predictor, to a player.
type Participant struct {
	Handle     state.Handle
	Controller Controller
	// Predictor is set for locally authoritative players whose commands are
	// forwarded to a remote authority.
	Predictor *Predictor
}

// Issued is a command produced for a predicted participant.
type Issued struct {
	Handle  state.Handle
	Command Command
}

// StepResult summarizes one Advance call.
type StepResult struct {
	Frame      uint64
	Ticks      int
	Issued     []Issued
	Unresolved int
}

// Simulation advances every attached participant in fixed quanta. A single
// mutex guards player state, controllers and predictors; transport code
// reaches them through Locked.
type Simulation struct {
	mu           sync.Mutex
	table        *state.Table
	motion       Motion
	cfg          Config
	deps         Deps
	participants map[state.Handle]*Participant
	frame        atomic.Uint64
}

// New creates a simulation over the table.
func New(table *state.Table, motion Motion, cfg Config, deps Deps) *Simulation {
	if cfg.Quantum <= 0 {
		cfg.Quantum = motion.quantum()
	}
	motion.Quantum = cfg.Quantum
	return &Simulation{
		table:        table,
		motion:       motion,
		cfg:          cfg,
		deps:         deps,
		participants: make(map[state.Handle]*Participant),
	}
}

// Quantum returns the tick length.
func (s *Simulation) Quantum() time.Duration { return s.cfg.Quantum }

// Motion returns the integrator used for every participant.
func (s *Simulation) Motion() Motion { return s.motion }

// Table returns the player table.
func (s *Simulation) Table() *state.Table { return s.table }

// Attach registers or replaces the participant for p.Handle.
func (s *Simulation) Attach(p Participant) error {
	if _, ok := s.table.Get(p.Handle); !ok {
		return ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := p
	s.participants[p.Handle] = &copied
	s.storeParticipantsLocked()
	return nil
}

// Detach stops simulating the handle.
func (s *Simulation) Detach(h state.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, h)
	s.storeParticipantsLocked()
}

// Participant returns the participant bound to h.
func (s *Simulation) Participant(h state.Handle) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[h]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Locked runs fn inside the simulation's critical section.
func (s *Simulation) Locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Frame returns the number of started Advance calls. It does not take the
// simulation lock.
func (s *Simulation) Frame() uint64 {
	return s.frame.Load()
}

// Advance feeds elapsed wall-clock time to every participant and runs as many
// whole quanta as each has accumulated.
func (s *Simulation) Advance(elapsed time.Duration) StepResult {
	if elapsed < 0 {
		elapsed = 0
	}
	result := StepResult{Frame: s.frame.Add(1)}
	s.mu.Lock()
	handles := make([]state.Handle, 0, len(s.participants))
	for h := range s.participants {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	moved := make(map[state.Handle]bool, len(handles))
	for _, h := range handles {
		if s.advanceParticipant(h, elapsed, &result) {
			moved[h] = true
		}
	}
	if s.cfg.PlayerCollision && len(moved) > 0 {
		s.separate(handles, moved)
	}
	if result.Ticks > 0 && s.deps.Metrics != nil {
		s.deps.Metrics.Add(ticksMetricKey, uint64(result.Ticks))
	}
	return result
}

func (s *Simulation) advanceParticipant(h state.Handle, elapsed time.Duration, result *StepResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.participants[h]
	if !ok {
		return false
	}
	player, ok := s.table.Get(h)
	if !ok || player.IsDead() {
		return false
	}

	quantum := s.cfg.Quantum
	part.Controller.ProvideRealtimeInput(elapsed)
	player.TickEquipment()

	moved := false
	acc := player.Accumulated() + elapsed
	for acc >= quantum {
		acc -= quantum
		result.Ticks++

		cmd, ok := part.Controller.ProvideNextCommand()
		if !ok {
			player.SetVelocity(mgl64.Vec2{})
			player.Advance(player.Position())
			continue
		}
		if part.Predictor != nil {
			cmd = part.Predictor.Issue(cmd)
			result.Issued = append(result.Issued, Issued{Handle: h, Command: cmd})
		}
		cmd.ApplyTo(player)
		res := s.motion.Step(player)
		moved = true
		if !res.Converged {
			result.Unresolved++
			s.reportUnresolved(h, player.Position(), res)
		}
	}
	player.SetAccumulated(acc)
	player.UpdateInterpolated(quantum)
	player.Publish()
	return moved
}

func (s *Simulation) separate(handles []state.Handle, moved map[state.Handle]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actors := make([]*world.Actor, 0, len(handles))
	players := make([]*state.Player, 0, len(handles))
	for _, h := range handles {
		if _, ok := s.participants[h]; !ok {
			continue
		}
		player, ok := s.table.Get(h)
		if !ok || player.IsDead() {
			continue
		}
		actors = append(actors, &world.Actor{Position: player.Position(), Moved: moved[h]})
		players = append(players, player)
	}
	world.SeparateActors(actors, s.motion.Resolver)
	for i, actor := range actors {
		if actor.Position == players[i].Position() {
			continue
		}
		players[i].Correct(actor.Position)
		players[i].UpdateInterpolated(s.cfg.Quantum)
		players[i].Publish()
	}
}

func (s *Simulation) reportUnresolved(h state.Handle, pos mgl64.Vec2, res world.Resolution) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Add(collisionUnresolvedMetricKey, 1)
	}
	simlog.CollisionUnresolved(
		context.Background(),
		s.deps.publisher(),
		s.frame.Load(),
		logging.EntityRef{ID: h.String(), Kind: logging.EntityKindPlayer},
		simlog.CollisionUnresolvedPayload{
			X:          pos.X(),
			Y:          pos.Y(),
			Iterations: res.Iterations,
			Solid:      res.Ref,
		},
		nil,
	)
}

func (s *Simulation) storeParticipantsLocked() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Store(participantsMetricKey, uint64(len(s.participants)))
	}
}

package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/state"
)

var (
	// ErrSeriesMismatch is returned for commands issued before the latest
	// respawn, team change or resync.
	ErrSeriesMismatch = errors.New("sim: command series mismatch")
	// ErrStaleCommand is returned for duplicates, reordered commands and
	// commands too far ahead of the last accepted one.
	ErrStaleCommand = errors.New("sim: stale command")
)

// MaxQueuedCommands bounds accepted commands waiting for a tick.
const MaxQueuedCommands = 8

// AuthorityState is the NetworkController's session phase.
type AuthorityState uint8

const (
	// AwaitingFirstCommand accepts the next command of the current series
	// whatever its sequence number.
	AwaitingFirstCommand AuthorityState = iota
	// Active enforces the sliding acceptance window.
	Active
)

func (s AuthorityState) String() string {
	switch s {
	case AwaitingFirstCommand:
		return "awaiting_first"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// AuthorityHooks observe session events. They run with the simulation lock
// held and must not block.
type AuthorityHooks struct {
	// OnSynthesize fires when a missing command was replaced by an idle one.
	OnSynthesize func(seq uint8)
	// OnResync fires when the session started a new series on its own.
	OnResync func(series uint8)
}

// NetworkController is the authority's gate for commands arriving from a
// remote client. Accepted commands are queued and applied one per tick, so
// the state reported with an acknowledgement is the result of every command
// up to and including it. All methods must be called with the owning
// simulation locked.
type NetworkController struct {
	player *state.Player
	hooks  AuthorityHooks

	phase        AuthorityState
	series       uint8
	lastAccepted uint8
	lastApplied  uint8
	applied      bool
	idleTicks    int
	queue        []Command

	accepted    uint64
	rejected    uint64
	synthesized uint64
}

// NewNetworkController starts a session in AwaitingFirstCommand.
func NewNetworkController(player *state.Player, series uint8, hooks AuthorityHooks) *NetworkController {
	return &NetworkController{
		player: player,
		series: series,
		hooks:  hooks,
		queue:  make([]Command, 0, MaxQueuedCommands),
	}
}

// ProcessCommand decodes a raw command datagram and runs it through Accept.
func (c *NetworkController) ProcessCommand(raw []byte) (Command, error) {
	msg, err := proto.DecodeClientCommand(raw)
	if err != nil {
		c.rejected++
		return Command{}, err
	}
	cmd := CommandFromWire(msg)
	return cmd, c.Accept(cmd)
}

// Accept validates cmd against the session and queues it for the next tick.
func (c *NetworkController) Accept(cmd Command) error {
	if cmd.Series != c.series {
		c.rejected++
		return fmt.Errorf("%w: got %d want %d", ErrSeriesMismatch, cmd.Series, c.series)
	}
	switch c.phase {
	case AwaitingFirstCommand:
		c.phase = Active
	default:
		if !Accepts(c.lastAccepted, cmd.Sequence) {
			c.rejected++
			return fmt.Errorf("%w: seq %d after %d", ErrStaleCommand, cmd.Sequence, c.lastAccepted)
		}
	}
	c.lastAccepted = cmd.Sequence
	c.idleTicks = 0
	c.accepted++
	if len(c.queue) == MaxQueuedCommands {
		copy(c.queue, c.queue[1:])
		c.queue = c.queue[:len(c.queue)-1]
	}
	c.queue = append(c.queue, cmd)
	return nil
}

// RequestInput reports whether the authority should stand in for a missing
// command with sequence seq.
func (c *NetworkController) RequestInput(seq uint8) bool {
	if c.phase == AwaitingFirstCommand {
		return true
	}
	return seq-c.lastAccepted > AcceptWindow
}

// Synthesize builds an idle command for seq. In the Active phase the session
// cannot be resumed from the client's numbering any more, so the window is
// moved to seq and a new series is started.
func (c *NetworkController) Synthesize(seq uint8) Command {
	cmd := idleCommand(c.player, seq, c.series)
	if c.phase == AwaitingFirstCommand {
		return cmd
	}
	c.lastAccepted = seq
	c.lastApplied = seq
	c.applied = true
	c.synthesized++
	if c.hooks.OnSynthesize != nil {
		c.hooks.OnSynthesize(seq)
	}
	c.ResetSeries()
	if c.hooks.OnResync != nil {
		c.hooks.OnResync(c.series)
	}
	return cmd
}

// ResetSeries starts a new series and waits for its first command.
func (c *NetworkController) ResetSeries() uint8 {
	c.series++
	c.phase = AwaitingFirstCommand
	c.idleTicks = 0
	c.queue = c.queue[:0]
	return c.series
}

// ProvideRealtimeInput is a no-op; remote intent arrives as commands.
func (c *NetworkController) ProvideRealtimeInput(time.Duration) {}

// ProvideNextCommand pops the oldest queued command. When the queue stays
// empty for more than one tick the session may substitute an idle command.
func (c *NetworkController) ProvideNextCommand() (Command, bool) {
	if len(c.queue) > 0 {
		cmd := c.queue[0]
		copy(c.queue, c.queue[1:])
		c.queue = c.queue[:len(c.queue)-1]
		c.lastApplied = cmd.Sequence
		c.applied = true
		return cmd, true
	}
	if c.idleTicks < math.MaxInt32 {
		c.idleTicks++
	}
	if c.idleTicks <= 1 {
		return Command{}, false
	}
	seq := c.lastAccepted + uint8(c.idleTicks)
	if !c.RequestInput(seq) {
		return Command{}, false
	}
	return c.Synthesize(seq), true
}

// Series returns the current series.
func (c *NetworkController) Series() uint8 { return c.series }

// State returns the session phase.
func (c *NetworkController) State() AuthorityState { return c.phase }

// LastAccepted returns the newest accepted sequence number.
func (c *NetworkController) LastAccepted() uint8 { return c.lastAccepted }

// Ack returns the sequence number of the last command applied by a tick.
func (c *NetworkController) Ack() (uint8, bool) { return c.lastApplied, c.applied }

// Queued reports how many accepted commands wait for a tick.
func (c *NetworkController) Queued() int { return len(c.queue) }

// IdleTicks reports consecutive ticks without a queued command.
func (c *NetworkController) IdleTicks() int { return c.idleTicks }

// AuthorityStats counts gate decisions.
type AuthorityStats struct {
	Accepted    uint64 `json:"accepted"`
	Rejected    uint64 `json:"rejected"`
	Synthesized uint64 `json:"synthesized"`
}

// Stats returns the gate counters.
func (c *NetworkController) Stats() AuthorityStats {
	return AuthorityStats{Accepted: c.accepted, Rejected: c.rejected, Synthesized: c.synthesized}
}

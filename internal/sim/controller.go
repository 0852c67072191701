package sim

import (
	"time"

	"avatar-sync/server/internal/state"
)

// Controller supplies intent for one participant. ProvideRealtimeInput is
// called once per Advance with the elapsed wall-clock time and may apply
// continuous effects such as turning. ProvideNextCommand is called once per
// tick quantum and returns false when there is no command for the tick.
type Controller interface {
	ProvideRealtimeInput(elapsed time.Duration)
	ProvideNextCommand() (Command, bool)
}

// Intent is a sampled device state for a locally controlled player.
type Intent struct {
	// Strafe and Forward are in [-1, 1]; positive strafe is rightwards.
	Strafe  float64
	Forward float64
	// Turn is the rotation rate in radians per second.
	Turn    float64
	Stealth bool
}

// InputSource is polled by LocalController.
type InputSource interface {
	Intent() Intent
}

// InputSourceFunc adapts a function into an InputSource.
type InputSourceFunc func() Intent

// Intent implements InputSource.
func (f InputSourceFunc) Intent() Intent {
	if f == nil {
		return Intent{}
	}
	return f()
}

// LocalController turns sampled device intent into commands.
type LocalController struct {
	player *state.Player
	input  InputSource
}

// NewLocalController binds an input source to a player.
func NewLocalController(player *state.Player, input InputSource) *LocalController {
	return &LocalController{player: player, input: input}
}

// ProvideRealtimeInput applies continuous turning.
func (c *LocalController) ProvideRealtimeInput(elapsed time.Duration) {
	if c == nil || c.input == nil {
		return
	}
	if turn := c.input.Intent().Turn; turn != 0 {
		c.player.Rotate(turn * elapsed.Seconds())
	}
}

// ProvideNextCommand samples the input source.
func (c *LocalController) ProvideNextCommand() (Command, bool) {
	if c == nil || c.input == nil {
		return Command{}, false
	}
	in := c.input.Intent()
	return Command{
		Move:        state.DirectionFromIntent(in.Strafe, in.Forward),
		Orientation: float32(c.player.Orientation()),
		Stealth:     in.Stealth,
	}, true
}

// AITurnRate is how fast an AIController spins, in radians per second.
const AITurnRate = 0.4

// AIController walks forward in stealth while slowly turning.
type AIController struct {
	player *state.Player
}

// NewAIController returns an AI controller for the player.
func NewAIController(player *state.Player) *AIController {
	return &AIController{player: player}
}

// ProvideRealtimeInput rotates the player.
func (c *AIController) ProvideRealtimeInput(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.player.Rotate(AITurnRate * elapsed.Seconds())
}

// ProvideNextCommand always moves forward in stealth.
func (c *AIController) ProvideNextCommand() (Command, bool) {
	if c == nil {
		return Command{}, false
	}
	return Command{
		Move:        state.MoveForward,
		Orientation: float32(c.player.Orientation()),
		Stealth:     true,
	}, true
}

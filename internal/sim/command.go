package sim

import (
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/state"
)

// Command is one tick's worth of discrete player intent.
type Command struct {
	Sequence    uint8               `json:"sequence"`
	Series      uint8               `json:"series"`
	Move        state.MoveDirection `json:"move"`
	Orientation float32             `json:"orientation"`
	Stealth     bool                `json:"stealth"`
}

// ApplyTo copies the command's intent onto the player. Dead players ignore it.
func (c Command) ApplyTo(p *state.Player) {
	if p == nil {
		return
	}
	p.SetMoveDirection(c.Move)
	p.SetOrientation(float64(c.Orientation))
	p.SetStealth(c.Stealth)
}

// Wire converts the command into its datagram form.
func (c Command) Wire() proto.ClientCommand {
	return proto.ClientCommand{
		Sequence:    c.Sequence,
		Series:      c.Series,
		Move:        c.Move,
		Orientation: c.Orientation,
		Stealth:     c.Stealth,
	}
}

// CommandFromWire converts a decoded datagram into a Command.
func CommandFromWire(m proto.ClientCommand) Command {
	return Command{
		Sequence:    m.Sequence,
		Series:      m.Series,
		Move:        m.Move,
		Orientation: m.Orientation,
		Stealth:     m.Stealth,
	}
}

// idleCommand keeps the player's facing and stealth but stops movement.
func idleCommand(p *state.Player, seq, series uint8) Command {
	cmd := Command{Sequence: seq, Series: series, Move: state.MoveNone}
	if p != nil {
		cmd.Orientation = float32(p.Orientation())
		cmd.Stealth = p.Stealth()
	}
	return cmd
}

package sim

import (
	"github.com/go-gl/mathgl/mgl64"

	"avatar-sync/server/internal/state"
)

// Predictor runs the locally controlled player ahead of the authority and
// rewinds it when an authoritative update arrives. It must be used with the
// owning simulation locked.
type Predictor struct {
	player *state.Player
	motion Motion
	buffer *InputBuffer

	sequence uint8
	series   uint8
	lastAck  uint8
	acked    bool

	reconciled uint64
	replayed   uint64
}

// NewPredictor binds a predictor to the local player.
func NewPredictor(player *state.Player, motion Motion, buffer *InputBuffer, series uint8) *Predictor {
	if buffer == nil {
		buffer = NewInputBuffer(DefaultInputBufferCapacity, nil)
	}
	return &Predictor{player: player, motion: motion, buffer: buffer, series: series}
}

// Issue stamps cmd with the next sequence number and the current series and
// records it as unconfirmed.
func (p *Predictor) Issue(cmd Command) Command {
	p.sequence++
	cmd.Sequence = p.sequence
	cmd.Series = p.series
	p.buffer.Push(cmd)
	return cmd
}

// Reconcile rebases the player on the authoritative state reported with ack
// and replays every command the authority has not applied yet. The player's
// orientation is left as the local controller set it.
// Updates that are older than one already processed, or that acknowledge a
// command never issued, are ignored and Reconcile returns false.
func (p *Predictor) Reconcile(ack uint8, pos mgl64.Vec2, orientation float64) bool {
	if p.acked && !Newer(ack, p.lastAck) {
		return false
	}
	if Newer(ack, p.sequence) {
		return false
	}
	p.lastAck = ack
	p.acked = true
	p.buffer.Confirm(ack)

	facing := p.player.Orientation()
	p.player.Place(pos)
	p.player.SetOrientation(orientation)
	for _, cmd := range p.buffer.Pending() {
		cmd.ApplyTo(p.player)
		p.motion.Step(p.player)
		p.replayed++
	}
	p.player.SetOrientation(facing)
	p.reconciled++
	return true
}

// Reset drops every unconfirmed command and adopts a new series. Sequence
// numbering continues.
func (p *Predictor) Reset(series uint8) {
	p.series = series
	p.buffer.Clear()
}

// Series returns the series stamped on issued commands.
func (p *Predictor) Series() uint8 { return p.series }

// Sequence returns the last issued sequence number.
func (p *Predictor) Sequence() uint8 { return p.sequence }

// LastAck returns the last acknowledgement processed.
func (p *Predictor) LastAck() (uint8, bool) { return p.lastAck, p.acked }

// Pending returns the unconfirmed commands.
func (p *Predictor) Pending() []Command { return p.buffer.Pending() }

// PredictionStats counts reconciliation work.
type PredictionStats struct {
	Reconciled uint64 `json:"reconciled"`
	Replayed   uint64 `json:"replayed"`
	Pending    int    `json:"pending"`
}

// Stats returns the reconciliation counters.
func (p *Predictor) Stats() PredictionStats {
	return PredictionStats{Reconciled: p.reconciled, Replayed: p.replayed, Pending: p.buffer.Len()}
}

package sim

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/world"
)

const (
	// DefaultQuantum is the fixed simulation tick length.
	DefaultQuantum = 50 * time.Millisecond
	// ReferenceQuantum is the tick length the speed constants are tuned for.
	ReferenceQuantum = 50 * time.Millisecond
	// BaseSpeed is the distance covered per reference tick while running.
	BaseSpeed = 3.5
	// StealthPenalty is subtracted from BaseSpeed while sneaking.
	StealthPenalty = 2.5
)

// Motion integrates player movement for one quantum and resolves the result
// against world geometry.
type Motion struct {
	Quantum  time.Duration
	Resolver *world.Resolver
}

// NewMotion returns a Motion for the given tick length and geometry.
func NewMotion(quantum time.Duration, resolver *world.Resolver) Motion {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return Motion{Quantum: quantum, Resolver: resolver}
}

// Velocity returns the displacement for one quantum. Direction 0 moves along
// the facing, each step adds an eighth of a turn clockwise.
func (m Motion) Velocity(dir state.MoveDirection, orientation float64, stealth bool) mgl64.Vec2 {
	if !dir.Valid() || dir == state.MoveNone {
		return mgl64.Vec2{}
	}
	speed := BaseSpeed
	if stealth {
		speed -= StealthPenalty
	}
	scale := float64(m.quantum()) / float64(ReferenceQuantum) * speed
	angle := dir.Angle() + orientation
	return mgl64.Vec2{math.Sin(angle) * scale, math.Cos(angle) * scale}
}

// Step advances the player by one quantum using its current intent. Dead
// players do not move.
func (m Motion) Step(p *state.Player) world.Resolution {
	if p == nil || p.IsDead() {
		return world.Resolution{Converged: true, Ref: -1}
	}
	v := m.Velocity(p.MoveDirection(), p.Orientation(), p.Stealth())
	p.SetVelocity(v)
	p.Advance(p.Position().Add(v))
	corrected, res := m.Resolver.Resolve(p.Position())
	p.Correct(corrected)
	return res
}

func (m Motion) quantum() time.Duration {
	if m.Quantum <= 0 {
		return DefaultQuantum
	}
	return m.Quantum
}

package state

import (
	"errors"
	"math"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// DefaultHealth is the health of a freshly spawned player.
	DefaultHealth = 100.0
	// DefaultName is used until the participant supplies a valid name.
	DefaultName = "Unnamed Player"
	// MaxNameLength bounds display names in characters.
	MaxNameLength = 32

	twoPi = 2 * math.Pi
)

// ErrInvalidName is returned when a display name is empty or too long.
var ErrInvalidName = errors.New("state: name must be 1-32 characters")

// Player holds one participant's simulation data. Mutators are no-ops while
// the player is dead; Respawn is the only way back.
type Player struct {
	handle Handle

	pos    mgl64.Vec2
	prev   mgl64.Vec2
	interp mgl64.Vec2
	vel    mgl64.Vec2
	z      float64

	health  float64
	team    uint8
	stealth bool
	move    MoveDirection
	slot    int
	gear    [EquipmentSlots]Equipment

	accumulated time.Duration
	connected   bool
	name        string

	view atomic.Pointer[View]
}

// Snapshot is a value copy of every observable field of a player.
type Snapshot struct {
	Handle       Handle
	Position     mgl64.Vec2
	Previous     mgl64.Vec2
	Interpolated mgl64.Vec2
	Velocity     mgl64.Vec2
	Orientation  float64
	Health       float64
	Team         uint8
	Stealth      bool
	Move         MoveDirection
	Slot         int
	Accumulated  time.Duration
	Connected    bool
	Name         string
}

// NewPlayer returns a player in its reset state.
func NewPlayer(handle Handle) *Player {
	p := &Player{handle: handle}
	p.reset()
	return p
}

func (p *Player) reset() {
	p.pos = mgl64.Vec2{}
	p.prev = mgl64.Vec2{}
	p.interp = mgl64.Vec2{}
	p.vel = mgl64.Vec2{}
	p.z = 0
	p.health = DefaultHealth
	p.team = 0
	p.stealth = false
	p.move = MoveNone
	p.slot = DefaultSlot
	for i := range p.gear {
		p.gear[i] = NopEquipment{}
	}
	p.accumulated = 0
	p.connected = false
	p.name = DefaultName
	p.Publish()
}

func (p *Player) Handle() Handle                   { return p.handle }
func (p *Player) Position() mgl64.Vec2             { return p.pos }
func (p *Player) PreviousPosition() mgl64.Vec2     { return p.prev }
func (p *Player) InterpolatedPosition() mgl64.Vec2 { return p.interp }
func (p *Player) Velocity() mgl64.Vec2             { return p.vel }
func (p *Player) Orientation() float64             { return p.z }
func (p *Player) Health() float64                  { return p.health }
func (p *Player) Team() uint8                      { return p.team }
func (p *Player) Stealth() bool                    { return p.stealth }
func (p *Player) MoveDirection() MoveDirection     { return p.move }
func (p *Player) SelectedSlot() int                { return p.slot }
func (p *Player) Accumulated() time.Duration       { return p.accumulated }
func (p *Player) Connected() bool                  { return p.connected }
func (p *Player) Name() string                     { return p.name }

// IsDead reports whether health has dropped to zero or below.
func (p *Player) IsDead() bool {
	return p.health <= 0
}

// Speed is the magnitude of the current velocity, zero while dead.
func (p *Player) Speed() float64 {
	if p.IsDead() {
		return 0
	}
	return p.vel.Len()
}

// Snapshot copies the player's observable state.
func (p *Player) Snapshot() Snapshot {
	return Snapshot{
		Handle:       p.handle,
		Position:     p.pos,
		Previous:     p.prev,
		Interpolated: p.interp,
		Velocity:     p.vel,
		Orientation:  p.z,
		Health:       p.health,
		Team:         p.team,
		Stealth:      p.stealth,
		Move:         p.move,
		Slot:         p.slot,
		Accumulated:  p.accumulated,
		Connected:    p.connected,
		Name:         p.name,
	}
}

// Place teleports the player, collapsing previous and interpolated positions
// onto the new one.
func (p *Player) Place(pos mgl64.Vec2) {
	if p.IsDead() {
		return
	}
	p.pos = pos
	p.prev = pos
	p.interp = pos
}

// Advance moves the current position into previous and sets a new current.
func (p *Player) Advance(next mgl64.Vec2) {
	if p.IsDead() {
		return
	}
	p.prev = p.pos
	p.pos = next
}

// Correct overwrites the current position without touching previous.
func (p *Player) Correct(pos mgl64.Vec2) {
	if p.IsDead() {
		return
	}
	p.pos = pos
}

func (p *Player) SetVelocity(v mgl64.Vec2) {
	if p.IsDead() {
		return
	}
	p.vel = v
}

// SetOrientation stores z normalized into [0, 2π).
func (p *Player) SetOrientation(z float64) {
	if p.IsDead() {
		return
	}
	p.z = NormalizeAngle(z)
}

func (p *Player) Rotate(amount float64) {
	if p.IsDead() {
		return
	}
	p.SetOrientation(p.z + amount)
}

func (p *Player) SetStealth(on bool) {
	if p.IsDead() {
		return
	}
	p.stealth = on
}

// SetMoveDirection ignores invalid directions.
func (p *Player) SetMoveDirection(d MoveDirection) {
	if p.IsDead() || !d.Valid() {
		return
	}
	p.move = d
}

// SelectSlot switches the active equipment slot.
func (p *Player) SelectSlot(slot int) {
	if p.IsDead() || slot < 0 || slot >= EquipmentSlots {
		return
	}
	p.slot = slot
}

// Equip installs equipment into a slot; nil clears it.
func (p *Player) Equip(slot int, e Equipment) {
	if p.IsDead() || slot < 0 || slot >= EquipmentSlots {
		return
	}
	if e == nil {
		e = NopEquipment{}
	}
	p.gear[slot] = e
}

// Equipment returns the selected slot's equipment.
func (p *Player) Equipment() Equipment {
	return p.gear[p.slot]
}

// TickEquipment runs the selected equipment's per-frame update.
func (p *Player) TickEquipment() {
	if p.IsDead() {
		return
	}
	p.gear[p.slot].Tick()
}

func (p *Player) Fire() {
	if p.IsDead() {
		return
	}
	p.gear[p.slot].Fire()
}

func (p *Player) Reload() {
	if p.IsDead() {
		return
	}
	p.gear[p.slot].Reload()
}

// BuyClip hands the selected equipment another clip.
func (p *Player) BuyClip() {
	if p.IsDead() {
		return
	}
	p.gear[p.slot].GiveClip()
}

func (p *Player) IsReloading() bool { return p.gear[p.slot].IsReloading() }
func (p *Player) Clips() int        { return p.gear[p.slot].Clips() }
func (p *Player) ClipAmmo() int     { return p.gear[p.slot].ClipAmmo() }

// GiveHealth adds (or with a negative value removes) health, flooring at zero.
func (p *Player) GiveHealth(amount float64) {
	if p.IsDead() {
		return
	}
	p.health += amount
	if p.health < 0 {
		p.health = 0
	}
}

// Respawn revives the player at pos with full health and clears motion.
func (p *Player) Respawn(pos mgl64.Vec2, orientation float64) {
	p.health = DefaultHealth
	p.vel = mgl64.Vec2{}
	p.move = MoveNone
	p.stealth = false
	p.accumulated = 0
	p.z = NormalizeAngle(orientation)
	p.pos = pos
	p.prev = pos
	p.interp = pos
}

// SetHealth overwrites health, used when mirroring authoritative status.
func (p *Player) SetHealth(health float64) {
	p.health = health
}

func (p *Player) SetTeam(team uint8) {
	p.team = team
}

// SetName keeps the current name when the new one is invalid.
func (p *Player) SetName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return ErrInvalidName
	}
	p.name = name
	return nil
}

// SetAccumulated stores the leftover sub-tick time.
func (p *Player) SetAccumulated(d time.Duration) {
	if p.IsDead() {
		return
	}
	p.accumulated = d
}

// UpdateInterpolated derives the render position from the leftover fraction of
// the tick quantum.
func (p *Player) UpdateInterpolated(quantum time.Duration) {
	if p.IsDead() || quantum <= 0 {
		return
	}
	t := float64(p.accumulated) / float64(quantum)
	p.interp = p.prev.Add(p.pos.Sub(p.prev).Mul(t))
}

// NormalizeAngle wraps z into [0, 2π).
func NormalizeAngle(z float64) float64 {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0
	}
	z = math.Mod(z, twoPi)
	if z < 0 {
		z += twoPi
	}
	if z >= twoPi {
		z = 0
	}
	return z
}

package state

import "math"

// MoveDirection is one of eight compass directions relative to the player's
// orientation, or MoveNone. Direction n points n*45° clockwise from forward.
type MoveDirection int8

const (
	MoveNone MoveDirection = -1

	MoveForward      MoveDirection = 0
	MoveForwardRight MoveDirection = 1
	MoveRight        MoveDirection = 2
	MoveBackRight    MoveDirection = 3
	MoveBack         MoveDirection = 4
	MoveBackLeft     MoveDirection = 5
	MoveLeft         MoveDirection = 6
	MoveForwardLeft  MoveDirection = 7

	moveDirectionCount = 8
)

// Valid reports whether d is MoveNone or one of the eight directions.
func (d MoveDirection) Valid() bool {
	return d == MoveNone || (d >= 0 && d < moveDirectionCount)
}

// Angle returns the heading offset of the direction in radians.
func (d MoveDirection) Angle() float64 {
	if d == MoveNone {
		return 0
	}
	return float64(d) * math.Pi / 4
}

// ParseMoveDirection validates a raw direction byte received from the wire.
func ParseMoveDirection(value int8) (MoveDirection, bool) {
	d := MoveDirection(value)
	if !d.Valid() {
		return MoveNone, false
	}
	return d, true
}

// DirectionFromIntent picks the direction that best matches a strafe/forward
// intent, falling back to MoveNone when idle. Positive forward moves along the
// orientation, positive strafe moves to the right of it.
func DirectionFromIntent(strafe, forward float64) MoveDirection {
	const epsilon = 1e-6

	if math.Abs(strafe) < epsilon {
		strafe = 0
	}
	if math.Abs(forward) < epsilon {
		forward = 0
	}
	if strafe == 0 && forward == 0 {
		return MoveNone
	}

	angle := math.Atan2(strafe, forward)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	step := int(math.Round(angle/(math.Pi/4))) % moveDirectionCount
	return MoveDirection(step)
}

package world

import "github.com/go-gl/mathgl/mgl64"

// Actor is the minimal mutable view of a participant needed to separate it
// from other participants.
type Actor struct {
	Position mgl64.Vec2
	Moved    bool
}

// SeparateActors pushes overlapping actors apart by splitting the overlap
// evenly, then resolves each adjusted actor against the geometry again. Only
// pairs where at least one side moved this tick are considered.
func SeparateActors(actors []*Actor, resolver *Resolver) {
	if len(actors) < 2 {
		return
	}

	halfWidth := PlayerHalfWidth
	if resolver != nil && resolver.HalfWidth > 0 {
		halfWidth = resolver.HalfWidth
	}
	minDist := halfWidth * 2

	const iterations = 4
	for iter := 0; iter < iterations; iter++ {
		adjusted := false
		for i := 0; i < len(actors); i++ {
			a := actors[i]
			if a == nil {
				continue
			}
			for j := i + 1; j < len(actors); j++ {
				b := actors[j]
				if b == nil || (!a.Moved && !b.Moved) {
					continue
				}

				delta := b.Position.Sub(a.Position)
				dist := delta.Len()
				if dist >= minDist {
					continue
				}
				if dist == 0 {
					delta = mgl64.Vec2{1, 0}
					dist = 1
				}

				overlap := (minDist - dist) / 2
				n := delta.Mul(1 / dist)
				a.Position = a.Position.Sub(n.Mul(overlap))
				b.Position = b.Position.Add(n.Mul(overlap))

				if resolver != nil {
					a.Position, _ = resolver.Resolve(a.Position)
					b.Position, _ = resolver.Resolve(b.Position)
				}
				adjusted = true
			}
		}
		if !adjusted {
			break
		}
	}
}

// Overlapping reports whether two actors are closer than a player width.
func Overlapping(a, b mgl64.Vec2, halfWidth float64) bool {
	return b.Sub(a).Len() < 2*halfWidth
}

package world

import "github.com/go-gl/mathgl/mgl64"

// DefaultMaxIterations bounds push-out passes per resolution.
const DefaultMaxIterations = 32

// Resolution describes how a Resolve call ended.
type Resolution struct {
	Iterations int
	Converged  bool
	// Ref is the last solid the position was pushed out of, -1 when none.
	Ref int
}

// Resolver pushes a proposed position out of solid geometry.
type Resolver struct {
	Geometry      Geometry
	HalfWidth     float64
	MaxIterations int
}

// NewResolver builds a resolver with default bounds.
func NewResolver(geometry Geometry) *Resolver {
	return &Resolver{
		Geometry:      geometry,
		HalfWidth:     PlayerHalfWidth,
		MaxIterations: DefaultMaxIterations,
	}
}

// Resolve repeatedly moves p to half a player width away from the nearest
// solid point until the geometry reports it unblocked. When the iteration
// bound is hit the last candidate is returned with Converged false.
func (r *Resolver) Resolve(p mgl64.Vec2) (mgl64.Vec2, Resolution) {
	res := Resolution{Ref: -1}
	if r == nil || r.Geometry == nil {
		res.Converged = true
		return p, res
	}
	halfWidth := r.HalfWidth
	if halfWidth <= 0 {
		halfWidth = PlayerHalfWidth
	}
	limit := r.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	for res.Iterations < limit {
		probe := r.Geometry.CheckPosition(p)
		if !probe.Blocked {
			res.Converged = true
			return p, res
		}
		res.Iterations++
		res.Ref = probe.Ref
		normal := probe.Normal
		if normal.Len() == 0 {
			// A zero normal can only come from degenerate geometry; back off
			// along the offset from the nearest point if there is one.
			offset := p.Sub(probe.Nearest)
			if l := offset.Len(); l > 0 {
				normal = offset.Mul(1 / l)
			} else {
				return p, res
			}
		}
		p = probe.Nearest.Add(normal.Mul(halfWidth))
	}

	res.Converged = !r.Geometry.CheckPosition(p).Blocked
	return p, res
}

package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// PlayerHalfWidth is the collision radius of a player.
	PlayerHalfWidth = 8.0
	// CollisionTolerance lets a resolved player rest exactly on an edge
	// without being reported as blocked again.
	CollisionTolerance = 0.005
)

// Probe is the answer to a geometry query at a candidate position.
type Probe struct {
	// Blocked is true when the position overlaps solid geometry.
	Blocked bool
	// Distance to the nearest solid boundary, negative when the position lies
	// inside a solid.
	Distance float64
	// Nearest is the closest point on any solid boundary.
	Nearest mgl64.Vec2
	// Normal points from Nearest towards free space.
	Normal mgl64.Vec2
	// Ref identifies the solid that produced Nearest, -1 when none.
	Ref int
}

// Geometry answers collision queries against static world geometry.
type Geometry interface {
	CheckPosition(p mgl64.Vec2) Probe
}

// Clamp limits value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Polygon is a simple polygon whose interior is solid.
type Polygon struct {
	ID     string
	Points []mgl64.Vec2
}

// Obstacle is an axis-aligned solid rectangle.
type Obstacle struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Polygon converts the rectangle into a polygon.
func (o Obstacle) Polygon() Polygon {
	return Polygon{
		ID: o.ID,
		Points: []mgl64.Vec2{
			{o.X, o.Y},
			{o.X + o.Width, o.Y},
			{o.X + o.Width, o.Y + o.Height},
			{o.X, o.Y + o.Height},
		},
	}
}

// Contains reports whether p lies strictly inside the polygon.
func (poly Polygon) Contains(p mgl64.Vec2) bool {
	inside := false
	n := len(poly.Points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly.Points[i], poly.Points[j]
		if (a.Y() > p.Y()) != (b.Y() > p.Y()) {
			x := (b.X()-a.X())*(p.Y()-a.Y())/(b.Y()-a.Y()) + a.X()
			if p.X() < x {
				inside = !inside
			}
		}
	}
	return inside
}

func (poly Polygon) signedArea() float64 {
	area := 0.0
	n := len(poly.Points)
	for i := 0; i < n; i++ {
		a := poly.Points[i]
		b := poly.Points[(i+1)%n]
		area += a.X()*b.Y() - b.X()*a.Y()
	}
	return area / 2
}

// nearest returns the closest boundary point, its signed distance and the
// outward normal at that point.
func (poly Polygon) nearest(p mgl64.Vec2) (mgl64.Vec2, float64, mgl64.Vec2) {
	n := len(poly.Points)
	if n < 2 {
		return mgl64.Vec2{}, math.Inf(1), mgl64.Vec2{}
	}

	best := math.Inf(1)
	var closest, edgeNormal mgl64.Vec2
	clockwise := poly.signedArea() < 0
	for i := 0; i < n; i++ {
		a := poly.Points[i]
		b := poly.Points[(i+1)%n]
		edge := b.Sub(a)
		lenSq := edge.Dot(edge)
		t := 0.0
		if lenSq > 0 {
			t = Clamp(p.Sub(a).Dot(edge)/lenSq, 0, 1)
		}
		q := a.Add(edge.Mul(t))
		d := p.Sub(q).Len()
		if d < best {
			best = d
			closest = q
			normal := mgl64.Vec2{edge.Y(), -edge.X()}
			if clockwise {
				normal = normal.Mul(-1)
			}
			if l := normal.Len(); l > 0 {
				normal = normal.Mul(1 / l)
			}
			edgeNormal = normal
		}
	}

	inside := n >= 3 && poly.Contains(p)
	normal := edgeNormal
	if best > 1e-12 {
		normal = p.Sub(closest).Mul(1 / best)
		if inside {
			normal = normal.Mul(-1)
		}
	}
	if inside {
		best = -best
	}
	return closest, best, normal
}

// Arena is static world geometry made of solid polygons.
type Arena struct {
	Width     float64
	Height    float64
	Solids    []Polygon
	Spawns    []mgl64.Vec2
	HalfWidth float64
	Tolerance float64
}

// CheckPosition reports the most penetrating solid around p.
func (a *Arena) CheckPosition(p mgl64.Vec2) Probe {
	probe := Probe{Distance: math.Inf(1), Ref: -1}
	if a == nil {
		return probe
	}
	for i, solid := range a.Solids {
		nearest, dist, normal := solid.nearest(p)
		if dist < probe.Distance {
			probe.Distance = dist
			probe.Nearest = nearest
			probe.Normal = normal
			probe.Ref = i
		}
	}
	probe.Blocked = probe.Ref >= 0 && probe.Distance < a.halfWidth()-a.tolerance()
	return probe
}

func (a *Arena) halfWidth() float64 {
	if a.HalfWidth > 0 {
		return a.HalfWidth
	}
	return PlayerHalfWidth
}

func (a *Arena) tolerance() float64 {
	if a.Tolerance > 0 {
		return a.Tolerance
	}
	return CollisionTolerance
}

// Spawn returns the n-th spawn point, cycling through the list.
func (a *Arena) Spawn(n int) mgl64.Vec2 {
	if a == nil || len(a.Spawns) == 0 {
		return mgl64.Vec2{}
	}
	if n < 0 {
		n = -n
	}
	return a.Spawns[n%len(a.Spawns)]
}

const (
	defaultArenaWidth  = 640.0
	defaultArenaHeight = 480.0
	wallThickness      = 32.0
)

// DefaultArena builds a walled arena with a handful of convex obstacles.
func DefaultArena() *Arena {
	w, h := defaultArenaWidth, defaultArenaHeight
	walls := []Obstacle{
		{ID: "wall-north", X: -wallThickness, Y: -wallThickness, Width: w + 2*wallThickness, Height: wallThickness},
		{ID: "wall-south", X: -wallThickness, Y: h, Width: w + 2*wallThickness, Height: wallThickness},
		{ID: "wall-west", X: -wallThickness, Y: 0, Width: wallThickness, Height: h},
		{ID: "wall-east", X: w, Y: 0, Width: wallThickness, Height: h},
		{ID: "crate-1", X: 140, Y: 120, Width: 60, Height: 60},
		{ID: "crate-2", X: 440, Y: 300, Width: 60, Height: 60},
	}
	solids := make([]Polygon, 0, len(walls)+1)
	for _, wall := range walls {
		solids = append(solids, wall.Polygon())
	}
	solids = append(solids, Polygon{
		ID:     "pillar",
		Points: []mgl64.Vec2{{320, 200}, {350, 240}, {320, 280}, {290, 240}},
	})

	return &Arena{
		Width:  w,
		Height: h,
		Solids: solids,
		Spawns: []mgl64.Vec2{
			{64, 64}, {w - 64, h - 64}, {w - 64, 64}, {64, h - 64},
			{w / 2, 64}, {w / 2, h - 64},
		},
		HalfWidth: PlayerHalfWidth,
		Tolerance: CollisionTolerance,
	}
}

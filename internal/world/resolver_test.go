package world

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func singleCrate() *Arena {
	return &Arena{
		Solids:    []Polygon{Obstacle{ID: "crate", X: 0, Y: 0, Width: 40, Height: 40}.Polygon()},
		HalfWidth: PlayerHalfWidth,
		Tolerance: CollisionTolerance,
	}
}

func assertNoPenetration(t *testing.T, arena *Arena, p mgl64.Vec2) {
	t.Helper()
	probe := arena.CheckPosition(p)
	if probe.Blocked {
		t.Fatalf("expected %v to be clear, probe=%+v", p, probe)
	}
	if probe.Distance < PlayerHalfWidth-CollisionTolerance {
		t.Fatalf("expected distance >= half width, got %v", probe.Distance)
	}
}

func TestResolverPushesOutOfConvexObstacle(t *testing.T) {
	arena := singleCrate()
	resolver := NewResolver(arena)

	cases := map[string]mgl64.Vec2{
		"overlapping left edge":  {-3, 20},
		"overlapping top corner": {43, -2},
		"center inside":          {20, 12},
		"exactly on edge":        {40, 20},
		"deep near bottom":       {25, 38},
	}
	for name, start := range cases {
		t.Run(name, func(t *testing.T) {
			got, res := resolver.Resolve(start)
			if !res.Converged {
				t.Fatalf("expected convergence, got %+v", res)
			}
			if res.Iterations == 0 || res.Iterations > DefaultMaxIterations {
				t.Fatalf("expected bounded non-zero iterations, got %d", res.Iterations)
			}
			assertNoPenetration(t, arena, got)
		})
	}
}

func TestResolverLeavesFreePositionUntouched(t *testing.T) {
	resolver := NewResolver(singleCrate())
	start := mgl64.Vec2{100, 100}
	got, res := resolver.Resolve(start)
	if got != start || res.Iterations != 0 || !res.Converged {
		t.Fatalf("expected untouched free position, got %v %+v", got, res)
	}
}

func TestResolverMatchesHalfWidthPushFromOutside(t *testing.T) {
	resolver := NewResolver(singleCrate())
	got, _ := resolver.Resolve(mgl64.Vec2{45, 20})
	want := mgl64.Vec2{40 + PlayerHalfWidth, 20}
	if !got.ApproxEqual(want) {
		t.Fatalf("expected push to %v, got %v", want, got)
	}
}

type alwaysBlocked struct{ calls int }

func (g *alwaysBlocked) CheckPosition(p mgl64.Vec2) Probe {
	g.calls++
	return Probe{Blocked: true, Distance: 0, Nearest: p.Add(mgl64.Vec2{1, 0}), Normal: mgl64.Vec2{-1, 0}, Ref: 0}
}

func TestResolverStopsAtIterationBound(t *testing.T) {
	geom := &alwaysBlocked{}
	resolver := &Resolver{Geometry: geom, HalfWidth: 4, MaxIterations: 5}
	_, res := resolver.Resolve(mgl64.Vec2{0, 0})
	if res.Converged {
		t.Fatalf("expected non-convergence against degenerate geometry")
	}
	if res.Iterations != 5 {
		t.Fatalf("expected 5 iterations, got %d", res.Iterations)
	}
	if geom.calls > 6 {
		t.Fatalf("expected at most 6 geometry queries, got %d", geom.calls)
	}
}

func TestResolverSqueezedBetweenWallsGivesUp(t *testing.T) {
	// A corridor narrower than a player can never be satisfied.
	arena := &Arena{
		Solids: []Polygon{
			Obstacle{ID: "left", X: -100, Y: -100, Width: 100, Height: 200}.Polygon(),
			Obstacle{ID: "right", X: 10, Y: -100, Width: 100, Height: 200}.Polygon(),
		},
	}
	resolver := NewResolver(arena)
	_, res := resolver.Resolve(mgl64.Vec2{5, 0})
	if res.Converged {
		t.Fatalf("expected resolver to give up in a too-narrow corridor")
	}
	if res.Iterations != DefaultMaxIterations {
		t.Fatalf("expected iteration bound %d, got %d", DefaultMaxIterations, res.Iterations)
	}
}

func TestArenaSignedDistance(t *testing.T) {
	arena := singleCrate()
	inside := arena.CheckPosition(mgl64.Vec2{20, 5})
	if inside.Distance >= 0 || !inside.Blocked {
		t.Fatalf("expected negative distance inside, got %+v", inside)
	}
	if !inside.Normal.ApproxEqual(mgl64.Vec2{0, -1}) {
		t.Fatalf("expected normal towards nearest edge outside, got %v", inside.Normal)
	}
	outside := arena.CheckPosition(mgl64.Vec2{20, 60})
	if math.Abs(outside.Distance-20) > 1e-9 || outside.Blocked {
		t.Fatalf("expected distance 20 and clear, got %+v", outside)
	}
}

func TestDefaultArenaSpawnsAreClear(t *testing.T) {
	arena := DefaultArena()
	for i, spawn := range arena.Spawns {
		if probe := arena.CheckPosition(spawn); probe.Blocked {
			t.Fatalf("spawn %d at %v is blocked by solid %d", i, spawn, probe.Ref)
		}
	}
}

func TestSeparateActorsSplitsOverlap(t *testing.T) {
	a := &Actor{Position: mgl64.Vec2{100, 100}, Moved: true}
	b := &Actor{Position: mgl64.Vec2{104, 100}}
	SeparateActors([]*Actor{a, b}, NewResolver(DefaultArena()))
	if Overlapping(a.Position, b.Position, PlayerHalfWidth-1e-9) {
		t.Fatalf("expected actors separated, got %v and %v", a.Position, b.Position)
	}
	mid := a.Position.Add(b.Position).Mul(0.5)
	if !mid.ApproxEqual(mgl64.Vec2{102, 100}) {
		t.Fatalf("expected even split around 102, got midpoint %v", mid)
	}
}

func TestSeparateActorsSkipsResting(t *testing.T) {
	a := &Actor{Position: mgl64.Vec2{100, 100}}
	b := &Actor{Position: mgl64.Vec2{104, 100}}
	SeparateActors([]*Actor{a, b}, nil)
	if a.Position != (mgl64.Vec2{100, 100}) || b.Position != (mgl64.Vec2{104, 100}) {
		t.Fatalf("expected resting actors untouched")
	}
}

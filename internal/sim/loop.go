package sim

import (
	"context"
	"time"

	simlog "avatar-sync/server/logging/simulation"
)

// DefaultCatchupMaxTicks bounds how much elapsed time one frame may feed.
const DefaultCatchupMaxTicks = 5

// LoopConfig tunes the frame driver.
type LoopConfig struct {
	// FrameInterval is how often Advance is called; it defaults to the
	// simulation quantum.
	FrameInterval   time.Duration
	CatchupMaxTicks int
}

// LoopStepResult describes one driven frame.
type LoopStepResult struct {
	StepResult
	Now          time.Time
	Delta        time.Duration
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     time.Duration
}

// LoopHooks allow callers to observe frames.
type LoopHooks struct {
	AfterStep func(LoopStepResult)
}

// Loop drives a Simulation from a ticker until stopped.
type Loop struct {
	sim    *Simulation
	config LoopConfig
	hooks  LoopHooks
	deps   Deps

	overrunStreak uint64
}

// NewLoop wraps the simulation with a frame driver.
func NewLoop(sim *Simulation, cfg LoopConfig, hooks LoopHooks) *Loop {
	if sim == nil {
		return nil
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = sim.Quantum()
	}
	if cfg.CatchupMaxTicks <= 0 {
		cfg.CatchupMaxTicks = DefaultCatchupMaxTicks
	}
	return &Loop{sim: sim, config: cfg, hooks: hooks, deps: sim.deps}
}

// Simulation returns the driven simulation.
func (l *Loop) Simulation() *Simulation {
	if l == nil {
		return nil
	}
	return l.sim
}

// Run drives frames until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.config.FrameInterval)
	defer ticker.Stop()

	clock := l.deps.clock()
	last := clock.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			l.Step(now, now.Sub(last))
			last = now
		}
	}
}

// Step advances one frame with the measured wall-clock delta.
func (l *Loop) Step(now time.Time, delta time.Duration) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	budget := l.config.FrameInterval
	maxDelta := l.sim.Quantum() * time.Duration(l.config.CatchupMaxTicks)
	clamped := false
	if delta < 0 {
		delta = 0
	} else if delta > maxDelta {
		delta = maxDelta
		clamped = true
	}

	clock := l.deps.clock()
	start := clock.Now()
	result := LoopStepResult{
		StepResult:   l.sim.Advance(delta),
		Now:          now,
		Delta:        delta,
		Budget:       budget,
		ClampedDelta: clamped,
		MaxDelta:     maxDelta,
	}
	result.Duration = clock.Now().Sub(start)
	l.checkBudget(result)

	if l.hooks.AfterStep != nil {
		l.hooks.AfterStep(result)
	}
	return result
}

func (l *Loop) checkBudget(result LoopStepResult) {
	if result.Budget <= 0 || result.Duration <= result.Budget {
		l.overrunStreak = 0
		return
	}
	l.overrunStreak++
	if l.deps.Logger != nil && l.overrunStreak&(l.overrunStreak-1) == 0 {
		l.deps.Logger.Printf("[sim] frame %d took %s (budget %s, streak %d)", result.Frame, result.Duration, result.Budget, l.overrunStreak)
	}
	simlog.TickBudgetOverrun(context.Background(), l.deps.publisher(), result.Frame, simlog.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          float64(result.Duration) / float64(result.Budget),
		Streak:         l.overrunStreak,
	}, nil)
}

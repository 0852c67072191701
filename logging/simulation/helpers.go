package simulation

import (
	"context"

	"avatar-sync/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a simulation frame exceeds its budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventCollisionUnresolved is emitted when collision resolution hits its iteration bound.
	EventCollisionUnresolved logging.EventType = "simulation.collision_unresolved"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when the simulation exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// CollisionUnresolvedPayload records where a player was left after giving up.
type CollisionUnresolvedPayload struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Iterations int     `json:"iterations"`
	Solid      int     `json:"solid"`
}

// CollisionUnresolved publishes a warning when a position could not be pushed clear of geometry.
func CollisionUnresolved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CollisionUnresolvedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCollisionUnresolved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

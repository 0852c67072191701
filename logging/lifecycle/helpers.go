package lifecycle

import (
	"context"

	"avatar-sync/server/logging"
)

const (
	// EventPlayerJoined is emitted when a player joins the session.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerLeft is emitted when a player leaves the session.
	EventPlayerLeft logging.EventType = "lifecycle.player_left"
	// EventPlayerDied is emitted when a player's health reaches zero.
	EventPlayerDied logging.EventType = "lifecycle.player_died"
	// EventPlayerRespawned is emitted when a player starts a new life.
	EventPlayerRespawned logging.EventType = "lifecycle.player_respawned"
)

// PlayerJoinedPayload captures spawn metadata for a new player.
type PlayerJoinedPayload struct {
	Name   string  `json:"name"`
	Remote string  `json:"remote,omitempty"`
	SpawnX float64 `json:"spawnX"`
	SpawnY float64 `json:"spawnY"`
}

// PlayerLeftPayload captures the reason a player left.
type PlayerLeftPayload struct {
	Reason string `json:"reason"`
}

// PlayerDiedPayload captures the final blow.
type PlayerDiedPayload struct {
	Damage float64 `json:"damage"`
}

// PlayerRespawnedPayload captures the new life's placement.
type PlayerRespawnedPayload struct {
	Team   uint8   `json:"team"`
	Series uint8   `json:"series"`
	SpawnX float64 `json:"spawnX"`
	SpawnY float64 `json:"spawnY"`
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerJoined, tick, actor, payload, extra)
}

// PlayerLeft publishes a player leave event.
func PlayerLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerLeftPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerLeft, tick, actor, payload, extra)
}

// PlayerDied publishes a death event.
func PlayerDied(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerDiedPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerDied, tick, actor, payload, extra)
}

// PlayerRespawned publishes a respawn event.
func PlayerRespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerRespawnedPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerRespawned, tick, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

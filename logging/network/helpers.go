package network

import (
	"context"

	"avatar-sync/server/logging"
)

const (
	// EventCommandRejected is emitted when the authority drops a client command.
	EventCommandRejected logging.EventType = "network.command_rejected"
	// EventMalformedPacket is emitted when a datagram cannot be decoded.
	EventMalformedPacket logging.EventType = "network.malformed_packet"
	// EventInputSynthesized is emitted when the authority stands in for missing input.
	EventInputSynthesized logging.EventType = "network.input_synthesized"
	// EventPeerTimedOut is emitted when a peer stops sending datagrams.
	EventPeerTimedOut logging.EventType = "network.peer_timed_out"
)

// CommandRejectedPayload captures why a command was refused.
type CommandRejectedPayload struct {
	Reason   string `json:"reason"`
	Sequence uint8  `json:"sequence"`
	Series   uint8  `json:"series"`
}

// MalformedPacketPayload describes an undecodable datagram.
type MalformedPacketPayload struct {
	Remote string `json:"remote"`
	Size   int    `json:"size"`
	Error  string `json:"error"`
}

// InputSynthesizedPayload records the sequence number filled in by the authority.
type InputSynthesizedPayload struct {
	Sequence uint8 `json:"sequence"`
	Series   uint8 `json:"series"`
}

// PeerTimedOutPayload captures how long a peer was silent.
type PeerTimedOutPayload struct {
	Remote       string `json:"remote"`
	SilentMillis int64  `json:"silentMillis"`
}

// CommandRejected publishes a debug event for a refused command. Stale and
// reordered commands are routine on a lossy channel.
func CommandRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CommandRejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventCommandRejected, logging.SeverityDebug, tick, actor, payload, extra)
}

// MalformedPacket publishes a warning for an undecodable datagram.
func MalformedPacket(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload MalformedPacketPayload, extra map[string]any) {
	publish(ctx, pub, EventMalformedPacket, logging.SeverityWarn, tick, actor, payload, extra)
}

// InputSynthesized publishes an info event when the authority fills a gap.
func InputSynthesized(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload InputSynthesizedPayload, extra map[string]any) {
	publish(ctx, pub, EventInputSynthesized, logging.SeverityInfo, tick, actor, payload, extra)
}

// PeerTimedOut publishes an info event when a silent peer is dropped.
func PeerTimedOut(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerTimedOutPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerTimedOut, logging.SeverityInfo, tick, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

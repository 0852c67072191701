package intake

import (
	"context"
	"errors"

	"avatar-sync/server/internal/hub"
	"avatar-sync/server/internal/net/proto"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/telemetry"
	"avatar-sync/server/logging"
	"avatar-sync/server/logging/network"
)

// Command reject reasons.
const (
	CommandRejectMalformed      = "malformed"
	CommandRejectSeriesMismatch = "series_mismatch"
	CommandRejectStale          = "stale"
	CommandRejectUnknownActor   = "unknown_actor"
	CommandRejectInternal       = "internal"
)

const commandRejectMetricPrefix = "intake_command_rejected_"

// Gate validates and queues raw command datagrams.
type Gate interface {
	HandleCommand(handle state.Handle, raw []byte) (sim.Command, error)
}

// CommandContext carries what the intake stage needs from the server.
type CommandContext struct {
	Gate      Gate
	Remote    string
	Tick      func() uint64
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// StageClientCommand passes a command datagram to the gate and classifies
// any rejection.
func StageClientCommand(ctx CommandContext, handle state.Handle, raw []byte) (sim.Command, bool, string) {
	var zero sim.Command
	if ctx.Gate == nil {
		return zero, false, CommandRejectInternal
	}

	cmd, err := ctx.Gate.HandleCommand(handle, raw)
	if err == nil {
		return cmd, true, ""
	}
	reason := RejectReason(err)
	report(ctx, handle, cmd, reason, len(raw), err)
	return zero, false, reason
}

// RejectReason maps a gate error onto a reject reason.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, proto.ErrMalformedPacket):
		return CommandRejectMalformed
	case errors.Is(err, sim.ErrSeriesMismatch):
		return CommandRejectSeriesMismatch
	case errors.Is(err, sim.ErrStaleCommand):
		return CommandRejectStale
	case errors.Is(err, hub.ErrUnknownSession):
		return CommandRejectUnknownActor
	default:
		return CommandRejectInternal
	}
}

func report(ctx CommandContext, handle state.Handle, cmd sim.Command, reason string, size int, err error) {
	if ctx.Metrics != nil {
		ctx.Metrics.Add(commandRejectMetricPrefix+reason, 1)
	}
	var tick uint64
	if ctx.Tick != nil {
		tick = ctx.Tick()
	}
	actor := logging.EntityRef{ID: handle.String(), Kind: logging.EntityKindPlayer}
	if reason == CommandRejectMalformed {
		network.MalformedPacket(context.Background(), ctx.Publisher, tick, actor, network.MalformedPacketPayload{
			Remote: ctx.Remote,
			Size:   size,
			Error:  err.Error(),
		}, nil)
		return
	}
	network.CommandRejected(context.Background(), ctx.Publisher, tick, actor, network.CommandRejectedPayload{
		Reason:   reason,
		Sequence: cmd.Sequence,
		Series:   cmd.Series,
	}, nil)
}

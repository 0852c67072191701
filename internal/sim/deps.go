package sim

import (
	"avatar-sync/server/internal/telemetry"
	"avatar-sync/server/logging"
)

// Deps carries shared infrastructure dependencies required by the simulation.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Clock     logging.Clock
}

func (d Deps) publisher() logging.Publisher {
	if d.Publisher == nil {
		return logging.NopPublisher()
	}
	return d.Publisher
}

func (d Deps) clock() logging.Clock {
	if d.Clock == nil {
		return logging.SystemClock{}
	}
	return d.Clock
}

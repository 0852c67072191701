package ws

import (
	nethttp "net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/telemetry"
)

const (
	// DefaultInterval matches the datagram update rate.
	DefaultInterval = 50 * time.Millisecond

	viewersMetricKey   = "ws_viewers"
	framesOutMetricKey = "ws_frames_out_total"
)

// Roster is the read side the viewer stream needs.
type Roster interface {
	Views() []state.View
}

type HandlerConfig struct {
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
	Interval time.Duration
	// Tick reports the simulation frame stamped on each roster frame.
	Tick func() uint64
}

// Handler upgrades viewer connections and streams roster frames to them.
type Handler struct {
	roster   Roster
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	viewers  atomic.Int64
}

func NewHandler(roster Roster, cfg HandlerConfig) *Handler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Handler{
		roster: roster,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

// Handle serves one viewer until either side closes the connection.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("[ws] upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	h.storeViewers(h.viewers.Add(1))
	defer func() { h.storeViewers(h.viewers.Add(-1)) }()

	s := newSession(conn, h)
	s.serve(r.Context())
}

// Viewers reports the number of open viewer connections.
func (h *Handler) Viewers() int { return int(h.viewers.Load()) }

func (h *Handler) frame() Frame {
	frame := Frame{ServerTime: time.Now().UnixMilli()}
	if h.cfg.Tick != nil {
		frame.Tick = h.cfg.Tick()
	}
	if h.roster != nil {
		frame.Players = h.roster.Views()
	}
	return frame
}

func (h *Handler) storeViewers(n int64) {
	if h.cfg.Metrics != nil && n >= 0 {
		h.cfg.Metrics.Store(viewersMetricKey, uint64(n))
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Printf(format, args...)
	}
}

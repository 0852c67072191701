package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	"avatar-sync/server/internal/hub"
	"avatar-sync/server/internal/net/ws"
	"avatar-sync/server/internal/observability"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/telemetry"
)

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
	Observability observability.Config
	// Telemetry returns the counters served on /telemetry.
	Telemetry func() map[string]uint64
	// Schema returns the configuration JSON schema served on /schema.
	Schema func() ([]byte, error)
	// ViewerInterval is the roster frame interval on /ws.
	ViewerInterval time.Duration
}

type damageRequest struct {
	ID     *int    `json:"id"`
	Amount float64 `json:"amount"`
}

type respawnRequest struct {
	ID *int `json:"id"`
}

func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/players", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			Tick       uint64            `json:"tick"`
			TickMillis int64             `json:"tickMillis"`
			Players    []hub.SessionInfo `json:"players"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       h.Simulation().Frame(),
			TickMillis: h.Quantum().Milliseconds(),
			Players:    h.Sessions(),
		}
		writeJSON(w, cfg.Logger, payload)
	})

	mux.HandleFunc("/telemetry", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		counters := map[string]uint64{}
		if cfg.Telemetry != nil {
			counters = cfg.Telemetry()
		}
		writeJSON(w, cfg.Logger, struct {
			Counters map[string]uint64 `json:"counters"`
		}{Counters: counters})
	})

	mux.HandleFunc("/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if cfg.Schema == nil {
			httpError(w, "schema unavailable", nethttp.StatusNotFound)
			return
		}
		data, err := cfg.Schema()
		if err != nil {
			logf(cfg.Logger, "[http] schema: %v", err)
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/schema+json")
		w.Write(data)
	})

	mux.HandleFunc("/admin/damage", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req damageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == nil || req.Amount <= 0 {
			httpError(w, "id and positive amount required", nethttp.StatusBadRequest)
			return
		}
		died, err := h.Damage(state.Handle(*req.ID), req.Amount)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, cfg.Logger, struct {
			Status string `json:"status"`
			Died   bool   `json:"died"`
		}{Status: "ok", Died: died})
	})

	mux.HandleFunc("/admin/respawn", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req respawnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == nil {
			httpError(w, "id required", nethttp.StatusBadRequest)
			return
		}
		handle := state.Handle(*req.ID)
		if err := h.Respawn(handle); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, cfg.Logger, struct {
			Status string `json:"status"`
			Series uint8  `json:"series"`
		}{Status: "ok", Series: h.Status(handle).Series})
	})

	viewer := ws.NewHandler(h, ws.HandlerConfig{
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Interval: cfg.ViewerInterval,
		Tick:     h.Simulation().Frame,
	})
	mux.HandleFunc("/ws", viewer.Handle)

	if observability.Register(mux, cfg.Observability) {
		logf(cfg.Logger, "[http] pprof endpoints enabled")
	}

	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if r.Body == nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(dst); err != nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func sessionError(w nethttp.ResponseWriter, err error) {
	if errors.Is(err, hub.ErrUnknownSession) {
		httpError(w, "unknown player", nethttp.StatusNotFound)
		return
	}
	httpError(w, err.Error(), nethttp.StatusInternalServerError)
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logf(logger, "[http] encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func logf(logger telemetry.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}

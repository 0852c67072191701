package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"avatar-sync/server/internal/config"
	"avatar-sync/server/internal/hub"
	servernet "avatar-sync/server/internal/net"
	"avatar-sync/server/internal/net/udp"
	"avatar-sync/server/internal/observability"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/telemetry"
	"avatar-sync/server/logging"
	loggingSinks "avatar-sync/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Ready is called once both listeners are bound.
	Ready func(udpAddr, httpAddr net.Addr)
}

// Run serves the authority until ctx is cancelled or a listener fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logConfig := settings.Logging()
	logConfig.Fallback = log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			logConfig.Fallback = candidate
		}
	}
	sinks, err := buildSinks(logConfig)
	if err != nil {
		return err
	}
	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := telemetry.NewCounters()
	deps := sim.Deps{
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Publisher: router,
		Clock:     logging.SystemClock{},
	}

	authority := hub.New(hub.Config{
		Capacity:        settings.MaxPlayers,
		Quantum:         settings.TickQuantum,
		PlayerCollision: settings.PlayerCollision,
		MaxIterations:   settings.MaxIterations,
		Teams:           uint8(settings.Teams),
	}, nil, deps)

	udpServer, err := udp.Listen(settings.UDPAddr, authority, udp.ServerConfig{
		UpdateRate:  settings.UpdateRate,
		StatusEvery: settings.StatusEvery,
		PeerTimeout: settings.PeerTimeout,
		Impair:      settings.Impair.Datagram(),
	}, deps)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", settings.UDPAddr, err)
	}

	httpListener, err := net.Listen("tcp", settings.HTTPAddr)
	if err != nil {
		udpServer.Close()
		return fmt.Errorf("listen http %s: %w", settings.HTTPAddr, err)
	}
	handler := servernet.NewHTTPHandler(authority, servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		Metrics:       metrics,
		Observability: observability.Config{EnablePprofTrace: settings.EnablePprof},
		Telemetry: func() map[string]uint64 {
			snapshot := metrics.Snapshot()
			stats := router.Stats()
			snapshot["logging_events_total"] = stats.EventsTotal
			snapshot["logging_dropped_total"] = stats.DroppedTotal
			for category, n := range stats.CategoryDrops {
				snapshot["logging_dropped_"+category+"_total"] = n
			}
			return snapshot
		},
		Schema:         config.SchemaJSON,
		ViewerInterval: time.Second / time.Duration(settings.UpdateRate),
	})
	httpServer := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	loop := sim.NewLoop(authority.Simulation(), sim.LoopConfig{CatchupMaxTicks: settings.CatchupMaxTicks}, sim.LoopHooks{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(stop)
	}()

	errs := make(chan error, 2)
	go func() {
		if err := udpServer.Serve(ctx); err != nil {
			errs <- fmt.Errorf("udp server failed: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	telemetryLogger.Printf("authority listening udp=%s http=%s tick=%s", udpServer.Addr(), httpListener.Addr(), settings.TickQuantum)
	if cfg.Ready != nil {
		cfg.Ready(udpServer.Addr(), httpListener.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		telemetryLogger.Printf("http shutdown: %v", err)
	}
	close(stop)
	<-loopDone
	telemetryLogger.Printf("authority stopped after %d ticks", authority.Simulation().Frame())
	return runErr
}

func buildSinks(cfg logging.Config) ([]logging.NamedSink, error) {
	var sinks []logging.NamedSink
	if cfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console)})
	}
	if cfg.HasSink("json") {
		f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, cfg.JSON.FlushInterval)})
	}
	return sinks, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"avatar-sync/server/internal/client"
	"avatar-sync/server/internal/config"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/telemetry"
)

func main() {
	defaults := config.Default()
	var (
		server   = flag.String("server", "127.0.0.1"+defaults.UDPAddr, "authority UDP address")
		name     = flag.String("name", "bot", "player name prefix")
		count    = flag.Int("n", 1, "number of bots")
		team     = flag.Int("team", -1, "team to join after spawning (-1 keeps the assigned team)")
		report   = flag.Duration("report", 5*time.Second, "interval between stats lines")
		loss     = flag.Float64("loss", 0, "outgoing packet loss probability")
		dup      = flag.Float64("dup", 0, "outgoing packet duplication probability")
		reorder  = flag.Float64("reorder", 0, "outgoing packet reorder probability")
		duration = flag.Duration("for", 0, "stop after this long (0 runs until interrupted)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	impair := config.ImpairConfig{Loss: *loss, Duplicate: *dup, Reorder: *reorder}
	logger := telemetry.WrapLogger(log.Default())
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		botName := *name
		if *count > 1 {
			botName = fmt.Sprintf("%s-%d", *name, i+1)
		}
		c, err := client.Dial(ctx, client.Config{
			ServerAddr: *server,
			Name:       botName,
			Impair:     impair.Datagram(),
		}, sim.Deps{Logger: logger})
		if err != nil {
			log.Fatalf("%s: %v", botName, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBot(ctx, c, botName, *team, *report)
		}()
	}
	wg.Wait()
}

func runBot(ctx context.Context, c *client.Client, name string, team int, report time.Duration) {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	if team >= 0 {
		go func() {
			for !c.Spawned() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
			c.JoinTeam(uint8(team))
		}()
	}

	ticker := time.NewTicker(report)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				log.Printf("%s: %v", name, err)
			}
			return
		case <-ticker.C:
			v := c.Local()
			s := c.Stats()
			log.Printf("%s %s pos=(%.1f, %.1f) hp=%.0f series=%d reconciled=%d replayed=%d pending=%d stale=%d",
				name, c.Handle(), v.X, v.Y, v.Health, s.Series, s.Reconciled, s.Replayed, s.Pending, s.StaleUpdates)
		}
	}
}

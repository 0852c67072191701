package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"avatar-sync/server/internal/app"
	"avatar-sync/server/internal/config"
	"avatar-sync/server/internal/telemetry"
)

func main() {
	envFile := flag.String("env", "", "optional .env file (defaults to ./.env)")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	settings, warnings, err := config.Load(files...)
	for _, warning := range warnings {
		log.Printf("config: %v (keeping default)", warning)
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{
		Logger:   telemetry.WrapLogger(log.Default()),
		Settings: settings,
	}); err != nil {
		log.Fatalf("%v", err)
	}
}

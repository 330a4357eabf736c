package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnldd/dipper/service"
	"github.com/rs/zerolog"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcCfg, err := cfg.serviceConfig(cancel)
	if err != nil {
		log.Printf("creating service config: %v", err)
		return
	}

	svc, err := service.NewService(ctx, svcCfg)
	if err != nil {
		log.Printf("creating service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	svc.Run(ctx)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ignite/outreach-sequencer/internal/app"
	"github.com/ignite/outreach-sequencer/internal/config"
)

func main() {
	log.Println("Starting outreach sequencer worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	var wg sync.WaitGroup

	if a.Pool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Pool.Run(ctx)
		}()
		log.Printf("Task pool started (%d workers, queue %s)", cfg.Queue.Workers, cfg.Redis.QueueName)
	} else {
		log.Println("REDIS_URL not set: tasks run inline inside the sweeper")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Sweeper().Start(ctx)
	}()
	log.Printf("Sweeper started (generation every %s, send every %s, webhooks every %s)",
		cfg.Sweeps.GenerationInterval(), cfg.Sweeps.SendInterval(), cfg.Sweeps.WebhookInterval())

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Retention().Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for in-flight tasks")
	}
	log.Println("Worker stopped")
}

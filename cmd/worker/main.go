// The worker binary consumes pipeline jobs from the bus, runs the ffmpeg
// and speech-to-text stages, and publishes results. Scale out by running
// more instances against the same bus.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/z-wentao/capflow/pkg/config"
	"github.com/z-wentao/capflow/pkg/media"
	"github.com/z-wentao/capflow/pkg/processor"
	"github.com/z-wentao/capflow/pkg/setup"
	"github.com/z-wentao/capflow/pkg/stt"
	"github.com/z-wentao/capflow/pkg/worker"
)

func main() {
	configPath := os.Getenv("CAPFLOW_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Println("✓ config loaded")

	if cfg.Queue.Type == "memory" {
		log.Fatal("the memory queue only exists inside the API process; run the worker against rabbitmq")
	}

	q, err := setup.NewQueue(cfg)
	if err != nil {
		log.Fatalf("init queue: %v", err)
	}
	log.Printf("✓ queue ready (%s)", cfg.Queue.Type)

	objects, err := setup.NewObjectStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("init object store: %v", err)
	}
	log.Printf("✓ object store ready (%s)", cfg.ObjectStore.Type)

	primary, wordLevel, err := stt.Select(cfg.Providers)
	if err != nil {
		log.Fatalf("init providers: %v", err)
	}
	log.Printf("✓ providers ready (primary: %s)", primary.Name())

	toolkit := media.NewToolkit(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	procs := processor.New(objects, toolkit, primary, wordLevel, cfg.Media.ChunkDuration)

	pool := worker.NewPool(q, cfg.Queue.Workers)
	procs.RegisterAll(pool)
	if err := pool.Start(); err != nil {
		log.Fatalf("start worker pool: %v", err)
	}
	log.Printf("🚀 capflow worker running (%d workers)", cfg.Queue.Workers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	pool.Stop()
	q.Close()
	log.Println("✓ worker stopped")
}

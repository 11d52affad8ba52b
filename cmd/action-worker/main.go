package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailguard/internal/actionworker"
	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/config"
	"github.com/ignite/mailguard/internal/mailbox"
	"github.com/ignite/mailguard/internal/pkg/health"
)

func main() {
	log.Println("Starting mailguard Action Worker...")

	cfg, err := config.LoadPipeline("config/pipeline.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := redis.ParseURL(cfg.Pipeline.BrokerURL)
	if err != nil {
		log.Fatalf("parse broker url: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	b := broker.NewRedisBroker(redisClient)

	// No concrete Gmail/Outlook client ships with this module (out of
	// scope); MockProvider stands in as the pluggable seam until an
	// operator supplies a real mailbox.Provider.
	provider := mailbox.NewMockProvider()

	worker := actionworker.NewWorker(b, provider, nil, cfg.Pipeline.Brand, cfg.Pipeline.MoveMaliciousToQuarantine, cfg.Pipeline.LabelSemaphore, cfg.Pipeline.ConsumerPrefix)
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("start action worker: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	(&health.Checker{Service: "action-worker", RedisClient: redisClient}).Mount(r)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.Server.Port == 0 {
		addr = ":8085"
	}
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Printf("Action Worker health endpoint listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	log.Println("Action Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down Action Worker...")
	cancel()
	worker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailguard/internal/aggregator"
	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/config"
	"github.com/ignite/mailguard/internal/pkg/distlock"
	"github.com/ignite/mailguard/internal/pkg/health"
	"github.com/ignite/mailguard/internal/store"
)

func main() {
	log.Println("Starting mailguard Aggregator...")

	cfg, err := config.LoadPipeline("config/pipeline.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Pipeline.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	opts, err := redis.ParseURL(cfg.Pipeline.BrokerURL)
	if err != nil {
		log.Fatalf("parse broker url: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	events := store.NewPostgresEmailEventStore(db)
	states := store.NewRedisJobStateStore(redisClient, cfg.Pipeline.StateTTL())
	b := broker.NewRedisBroker(redisClient)

	lock := distlock.NewLock(redisClient, db, "reaper:sweep", 50*time.Second)
	reaper := aggregator.NewReaper(states, lock, cfg.Pipeline.ReaperInterval())

	worker := aggregator.NewWorker(b, events, states, reaper, cfg.Pipeline.ConsumerPrefix)
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("start aggregator: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	(&health.Checker{Service: "aggregator", DB: db, RedisClient: redisClient}).Mount(r)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.Server.Port == 0 {
		addr = ":8084"
	}
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Printf("Aggregator health endpoint listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	log.Println("Aggregator running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down Aggregator...")
	cancel()
	worker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

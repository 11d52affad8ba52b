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

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/config"
	"github.com/ignite/mailguard/internal/ingest"
	"github.com/ignite/mailguard/internal/pkg/health"
	"github.com/ignite/mailguard/internal/store"
)

func main() {
	log.Println("Starting mailguard Ingest Producer...")

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

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
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
	b := broker.NewRedisBroker(redisClient)
	producer := ingest.NewProducer(events, b)
	handler := ingest.NewHandler(producer)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	(&health.Checker{Service: "ingest", DB: db, RedisClient: redisClient}).Mount(r)
	r.Post("/ingest", handler.HandleIngest)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.Server.Port == 0 {
		addr = ":8081"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Printf("Ingest Producer listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down Ingest Producer...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

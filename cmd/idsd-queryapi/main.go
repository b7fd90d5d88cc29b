// Command idsd-queryapi serves the read-only HTTP query API (C9): recent
// hybrid verdicts and a cached dashboard summary, per §6.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/noctisids/noctis/internal/api"
	"github.com/noctisids/noctis/internal/config"
	"github.com/noctisids/noctis/internal/store"
)

func main() {
	dsn := flag.String("db", "", "Postgres DSN")
	redisAddr := flag.String("redis", "", "Redis address, host:port")
	listen := flag.String("listen", "", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Printf("[QUERYAPI] FATAL config: %v", err)
		os.Exit(2)
	}
	if err := config.ApplyDSN(*dsn, &cfg.Postgres); err != nil {
		log.Printf("[QUERYAPI] FATAL bad --db: %v", err)
		os.Exit(2)
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	db, err := store.Open(store.Config(cfg.Postgres))
	if err != nil {
		log.Printf("[QUERYAPI] FATAL store: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Printf("[QUERYAPI] FATAL migrate: %v", err)
		os.Exit(1)
	}

	cache, err := store.OpenCache(store.RedisConfig(cfg.Redis))
	if err != nil {
		log.Printf("[QUERYAPI] FATAL redis: %v", err)
		os.Exit(1)
	}
	defer cache.Close()

	srv := api.New(db, cache)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[QUERYAPI] shutdown signal received")
		if err := srv.Shutdown(); err != nil {
			log.Printf("[QUERYAPI] WARN shutdown: %v", err)
		}
	}()

	log.Printf("[QUERYAPI] listening on %s", cfg.Listen)
	if err := srv.Listen(cfg.Listen); err != nil {
		log.Printf("[QUERYAPI] ERROR listen: %v", err)
		os.Exit(1)
	}
	log.Println("[QUERYAPI] shut down cleanly")
}

// Command idsd-orchestrator is the long-running engine process: it
// captures live traffic on an interface, runs the ingestion worker and the
// periodic detection cycle (C5->C6->C7) described in §4.8, and publishes
// hybrid verdicts to NATS.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noctisids/noctis/internal/aggregator"
	"github.com/noctisids/noctis/internal/capture"
	"github.com/noctisids/noctis/internal/config"
	"github.com/noctisids/noctis/internal/hybrid"
	"github.com/noctisids/noctis/internal/messaging"
	"github.com/noctisids/noctis/internal/ml"
	"github.com/noctisids/noctis/internal/orchestrator"
	"github.com/noctisids/noctis/internal/rules"
	"github.com/noctisids/noctis/internal/stats"
	"github.com/noctisids/noctis/internal/store"
)

func main() {
	iface := flag.String("iface", "", "capture interface (e.g. eth0)")
	dsn := flag.String("db", "", "Postgres DSN")
	windowMinutes := flag.Float64("window", 1, "tumbling window size in minutes")
	threshold := flag.Float64("threshold", 0, "z-score alert threshold (0 = engine default)")
	intervalSeconds := flag.Int("interval", 0, "detection cycle interval in seconds (0 = engine default)")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *iface == "" {
		log.Println("[ORCHESTRATOR] FATAL --iface is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[ORCHESTRATOR] FATAL config: %v", err)
		os.Exit(2)
	}
	if err := config.ApplyDSN(*dsn, &cfg.Postgres); err != nil {
		log.Printf("[ORCHESTRATOR] FATAL bad --db: %v", err)
		os.Exit(2)
	}

	db, err := store.Open(store.Config(cfg.Postgres))
	if err != nil {
		log.Printf("[ORCHESTRATOR] FATAL store: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Printf("[ORCHESTRATOR] FATAL migrate: %v", err)
		os.Exit(1)
	}

	nc, err := messaging.Connect(messaging.Config{URL: cfg.NATS.URL})
	if err != nil {
		log.Printf("[ORCHESTRATOR] FATAL nats: %v", err)
		os.Exit(1)
	}
	defer nc.Close()
	if err := nc.EnsureStream(context.Background()); err != nil {
		log.Printf("[ORCHESTRATOR] FATAL nats stream: %v", err)
		os.Exit(1)
	}

	loadedRules, err := db.LoadRules(context.Background())
	if err != nil {
		log.Printf("[ORCHESTRATOR] WARN loading persisted rules failed: %v", err)
	}
	matcher := rules.NewMatcher(db)
	n := matcher.Load(loadedRules)
	log.Printf("[ORCHESTRATOR] loaded %d signature rules", n)

	windowSeconds := int64(*windowMinutes * 60)
	agg := aggregator.New(windowSeconds, db)

	zThresh := cfg.ZThreshold
	if *threshold > 0 {
		zThresh = *threshold
	}
	statDet := stats.NewDetector(db).WithZThreshold(zThresh)
	if cache, err := store.OpenCache(store.RedisConfig(cfg.Redis)); err != nil {
		log.Printf("[ORCHESTRATOR] WARN learning-mode counter cache unavailable, falling back to Store: %v", err)
	} else {
		defer cache.Close()
		statDet = statDet.WithCache(cache)
	}

	mlDet := ml.NewDetector(db, cfg.ModelPath).WithZThreshold(zThresh)
	if err := mlDet.LoadModel(); err != nil {
		log.Printf("[ORCHESTRATOR] WARN no trained model loaded yet: %v", err)
	}

	scorer := hybrid.NewScorer(db, nc)

	cycleInterval := cfg.CycleInterval
	if *intervalSeconds > 0 {
		cycleInterval = time.Duration(*intervalSeconds) * time.Second
	}

	src := capture.New(*iface, true, "")
	orch := orchestrator.New(
		orchestrator.Config{CycleInterval: cycleInterval},
		src,
		agg,
		matcher,
		db,
		statDet,
		mlDet,
		scorer,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[ORCHESTRATOR] shutdown signal received, draining")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		log.Printf("[ORCHESTRATOR] ERROR run: %v", err)
		os.Exit(1)
	}
	log.Println("[ORCHESTRATOR] shut down cleanly")
}

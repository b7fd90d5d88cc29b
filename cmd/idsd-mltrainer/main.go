// Command idsd-mltrainer runs the Isolation Forest training pass (C6)
// out of band from the orchestrator's cycle worker, for manual retraining
// or scheduled batch jobs, per §6.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/noctisids/noctis/internal/config"
	"github.com/noctisids/noctis/internal/ml"
	"github.com/noctisids/noctis/internal/store"
)

func main() {
	dsn := flag.String("db", "", "Postgres DSN")
	modelPath := flag.String("model", "", "path to write/read the model artifact")
	force := flag.Bool("force", false, "retrain even if a trained model already exists")
	collect := flag.Bool("collect", false, "collect untrained windows into the training table before fitting")
	flag.Parse()

	if *modelPath == "" {
		log.Println("[MLTRAINER] FATAL --model is required")
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Printf("[MLTRAINER] FATAL config: %v", err)
		os.Exit(2)
	}
	if err := config.ApplyDSN(*dsn, &cfg.Postgres); err != nil {
		log.Printf("[MLTRAINER] FATAL bad --db: %v", err)
		os.Exit(2)
	}

	db, err := store.Open(store.Config(cfg.Postgres))
	if err != nil {
		log.Printf("[MLTRAINER] FATAL store: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Printf("[MLTRAINER] FATAL migrate: %v", err)
		os.Exit(1)
	}

	det := ml.NewDetector(db, *modelPath)

	if *collect {
		n, err := det.Collect(ctx)
		if err != nil {
			log.Printf("[MLTRAINER] FATAL collect: %v", err)
			os.Exit(1)
		}
		log.Printf("[MLTRAINER] collected %d windows into the training table", n)
	}

	result, err := det.Train(ctx, *force)
	if err != nil {
		log.Printf("[MLTRAINER] FATAL train: %v", err)
		os.Exit(1)
	}
	log.Printf("[MLTRAINER] status=%s n_samples=%d", result.Status, result.NSamples)
	if result.Status == "insufficient_data" {
		log.Printf("[MLTRAINER] need at least %d normal samples to train", ml.MinTrain)
	}
}

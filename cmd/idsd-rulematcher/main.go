// Command idsd-rulematcher reads newline-delimited JSON PacketEvents on
// stdin and evaluates them against a loaded signature rule set, per §6.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/noctisids/noctis/internal/config"
	"github.com/noctisids/noctis/internal/event"
	"github.com/noctisids/noctis/internal/rules"
	"github.com/noctisids/noctis/internal/store"
)

func main() {
	dsn := flag.String("db", "", "Postgres DSN")
	rulesPath := flag.String("rules", "", "path to the signature rule file")
	flag.Parse()

	if *rulesPath == "" {
		log.Println("[RULEMATCHER] FATAL --rules is required")
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Printf("[RULEMATCHER] FATAL config: %v", err)
		os.Exit(2)
	}
	if err := config.ApplyDSN(*dsn, &cfg.Postgres); err != nil {
		log.Printf("[RULEMATCHER] FATAL bad --db: %v", err)
		os.Exit(2)
	}

	db, err := store.Open(store.Config(cfg.Postgres))
	if err != nil {
		log.Printf("[RULEMATCHER] FATAL store: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Printf("[RULEMATCHER] FATAL migrate: %v", err)
		os.Exit(1)
	}

	f, err := os.Open(*rulesPath)
	if err != nil {
		log.Printf("[RULEMATCHER] FATAL open rules file: %v", err)
		os.Exit(2)
	}
	loaded, parseErrs := rules.ParseRules(f)
	f.Close()
	for _, pe := range parseErrs {
		log.Printf("[RULEMATCHER] WARN %v", pe)
	}

	matcher := rules.NewMatcher(db)
	n := matcher.Load(loaded)
	log.Printf("[RULEMATCHER] loaded %d rules", n)
	if err := db.SaveRules(context.Background(), matcher.Rules()); err != nil {
		log.Printf("[RULEMATCHER] WARN persisting rules failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var exitCode int
	err = event.DecodeStream(os.Stdin, func(ev event.PacketEvent, decodeErr error) error {
		if decodeErr != nil {
			log.Printf("[RULEMATCHER] WARN skipping malformed event: %v", decodeErr)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		matcher.Process(ctx, ev)
		return nil
	})
	if err != nil && err != context.Canceled {
		log.Printf("[RULEMATCHER] ERROR stdin stream: %v", err)
		exitCode = 1
	}
	log.Println("[RULEMATCHER] shut down cleanly")
	os.Exit(exitCode)
}

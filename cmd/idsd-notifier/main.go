// Command idsd-notifier consumes hybrid verdicts off the NATS verdicts
// stream and forwards the ones clearing a severity floor to a webhook,
// implementing the advisory notifier of §4.9.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/noctisids/noctis/internal/config"
	"github.com/noctisids/noctis/internal/hybrid"
	"github.com/noctisids/noctis/internal/messaging"
	"github.com/noctisids/noctis/internal/notify"
)

const queueGroup = "idsd-notifier"

func main() {
	natsURL := flag.String("nats", "", "NATS server URL")
	webhookURL := flag.String("webhook", "", "webhook URL to POST qualifying verdicts to")
	minSeverity := flag.String("min-severity", "", "minimum severity to forward: info|low|medium|high|critical")
	flag.Parse()

	if *webhookURL == "" {
		log.Println("[NOTIFIER] FATAL --webhook is required")
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Printf("[NOTIFIER] FATAL config: %v", err)
		os.Exit(2)
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	sev := hybrid.Severity(cfg.MinSeverity)
	if *minSeverity != "" {
		sev = hybrid.Severity(*minSeverity)
	}

	nc, err := messaging.Connect(messaging.Config{URL: cfg.NATS.URL})
	if err != nil {
		log.Printf("[NOTIFIER] FATAL nats: %v", err)
		os.Exit(1)
	}
	defer nc.Close()
	if err := nc.EnsureStream(context.Background()); err != nil {
		log.Printf("[NOTIFIER] FATAL nats stream: %v", err)
		os.Exit(1)
	}

	n := notify.New(notify.Config{MinSeverity: sev, WebhookURL: *webhookURL})

	cc, err := nc.QueueSubscribeVerdicts(context.Background(), queueGroup, n.Handle)
	if err != nil {
		log.Printf("[NOTIFIER] FATAL subscribe: %v", err)
		os.Exit(1)
	}
	defer cc.Stop()

	log.Printf("[NOTIFIER] subscribed to verdicts, min_severity=%s webhook=%s", sev, *webhookURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[NOTIFIER] shut down cleanly")
}

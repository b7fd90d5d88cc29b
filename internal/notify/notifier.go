// Package notify implements the advisory notifier (§4.9): a severity-floor
// rule evaluated against every HybridVerdict consumed off the verdicts
// stream, dispatching matches to a webhook. It never calls back into the
// detection pipeline; a slow webhook holds Handle for at most HTTPTimeout,
// after which the delivery is dropped.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/noctisids/noctis/internal/hybrid"
)

var severityRank = map[hybrid.Severity]int{
	hybrid.SeverityInfo:     0,
	hybrid.SeverityLow:      1,
	hybrid.SeverityMedium:   2,
	hybrid.SeverityHigh:     3,
	hybrid.SeverityCritical: 4,
}

// Config controls which verdicts are forwarded and where.
type Config struct {
	MinSeverity hybrid.Severity
	WebhookURL  string
	HTTPTimeout time.Duration
}

// Notifier dispatches qualifying verdicts to a webhook.
type Notifier struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Notifier {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Notifier{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

// Handle evaluates one verdict against the severity floor and dispatches it
// if it clears. A delivery failure is logged and dropped, never retried, per
// §4.9 — the notifier is pure fan-out, not a durable outbox.
func (n *Notifier) Handle(v hybrid.Verdict) error {
	if severityRank[v.Severity] < severityRank[n.cfg.MinSeverity] {
		return nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[NOTIFIER] WARN failed to encode verdict for src_ip=%s: %v", v.SrcIP, err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.HTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[NOTIFIER] WARN failed to build webhook request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("[NOTIFIER] WARN webhook delivery failed for src_ip=%s severity=%s: %v", v.SrcIP, v.Severity, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[NOTIFIER] WARN webhook returned status %d for src_ip=%s", resp.StatusCode, v.SrcIP)
	}
	return nil
}

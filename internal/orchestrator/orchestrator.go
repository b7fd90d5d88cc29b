// Package orchestrator wires the capture, aggregation, rule-matching,
// statistical, ML and hybrid layers into the two workers described in
// the engine's concurrency model: an ingestion worker driven by incoming
// packets and a cycle worker driven by a ticker.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/noctisids/noctis/internal/aggregator"
	"github.com/noctisids/noctis/internal/event"
	"github.com/noctisids/noctis/internal/hybrid"
	"github.com/noctisids/noctis/internal/idserr"
	"github.com/noctisids/noctis/internal/ml"
	"github.com/noctisids/noctis/internal/rules"
	"github.com/noctisids/noctis/internal/stats"
)

const autoTrainEveryNCycles = 10

// PacketSource yields PacketEvents until ctx is cancelled or the source is
// exhausted. Satisfied by the live pcap capture (capture.Source).
type PacketSource interface {
	Events(ctx context.Context) (<-chan event.PacketEvent, <-chan error)
}

// WindowReader exposes closed windows to the cycle worker, so C5 can run
// Detect over whatever C3 flushed since the last cycle.
type WindowReader interface {
	RecentWindows(ctx context.Context, sinceTS float64) ([]aggregator.Window, error)
}

// Config controls cycle timing.
type Config struct {
	CycleInterval time.Duration // default 60s, per §4.8
}

// Orchestrator runs the ingestion and cycle workers, per §4.8 and §5.
type Orchestrator struct {
	cfg Config

	source PacketSource
	agg    *aggregator.Aggregator
	matcher *rules.Matcher

	windows WindowReader
	statDet *stats.Detector
	mlDet   *ml.Detector
	hybrid  *hybrid.Scorer

	cycleCount int
}

func New(
	cfg Config,
	source PacketSource,
	agg *aggregator.Aggregator,
	matcher *rules.Matcher,
	windows WindowReader,
	statDet *stats.Detector,
	mlDet *ml.Detector,
	scorer *hybrid.Scorer,
) *Orchestrator {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 60 * time.Second
	}
	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		agg:     agg,
		matcher: matcher,
		windows: windows,
		statDet: statDet,
		mlDet:   mlDet,
		hybrid:  scorer,
	}
}

// Run starts both workers and blocks until ctx is cancelled, flushing open
// aggregator windows before returning, per §5's cancellation contract.
func (o *Orchestrator) Run(ctx context.Context) error {
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		o.runIngestion(ctx)
	}()

	cycleDone := make(chan struct{})
	go func() {
		defer close(cycleDone)
		o.runCycles(ctx)
	}()

	<-ingestDone
	<-cycleDone

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.agg.FlushAll(flushCtx); err != nil {
		return &idserr.StoreError{Op: "flush open windows on shutdown", Err: err}
	}
	return nil
}

// runIngestion drives C1->C3 (aggregation) and C1->C4 (rule matching) for
// every packet, one after the other per event: the matcher first, then the
// aggregator.
func (o *Orchestrator) runIngestion(ctx context.Context) {
	events, errs := o.source.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[ORCHESTRATOR] WARN packet source error: %v", err)
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.matcher.Process(ctx, ev)
			if err := o.agg.Ingest(ctx, ev); err != nil {
				log.Printf("[ORCHESTRATOR] WARN aggregator ingest failed for src_ip=%s: %v", ev.SrcIP, err)
			}
		}
	}
}

// runCycles drives the periodic C5->C6->C7 detection cycle on a fixed
// interval, recovering from a panic in any single cycle so one bad cycle
// does not take the process down, per §7.
func (o *Orchestrator) runCycles(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.runOneCycleSafely(ctx, float64(now.Unix()))
		}
	}
}

func (o *Orchestrator) runOneCycleSafely(ctx context.Context, now float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ORCHESTRATOR] ERROR detection cycle panicked, skipping: %v", r)
		}
	}()
	o.runOneCycle(ctx, now)
}

func (o *Orchestrator) runOneCycle(ctx context.Context, now float64) {
	o.cycleCount++

	windows, err := o.windows.RecentWindows(ctx, now-float64(o.cfg.CycleInterval/time.Second))
	if err != nil {
		log.Printf("[ORCHESTRATOR] WARN could not read recent windows: %v", err)
		return
	}

	for _, w := range windows {
		if _, err := o.statDet.Detect(ctx, w.SrcIP, w.WindowStart, w.WindowEnd, now, w.Metrics); err != nil {
			log.Printf("[ORCHESTRATOR] WARN stat detector failed for src_ip=%s: %v", w.SrcIP, err)
		}
	}

	if _, err := o.mlDet.Collect(ctx); err != nil {
		log.Printf("[ORCHESTRATOR] WARN ml training collection failed: %v", err)
	}
	for _, w := range windows {
		if _, err := o.mlDet.Infer(ctx, w.SrcIP, now, w.Metrics); err != nil {
			log.Printf("[ORCHESTRATOR] WARN ml inference failed for src_ip=%s: %v", w.SrcIP, err)
		}
	}

	if o.cycleCount%autoTrainEveryNCycles == 0 {
		result, err := o.mlDet.Train(ctx, false)
		if err != nil {
			log.Printf("[ORCHESTRATOR] WARN ml auto-train failed: %v", err)
		} else {
			log.Printf("[ORCHESTRATOR] ml auto-train cycle=%d status=%s n_samples=%d", o.cycleCount, result.Status, result.NSamples)
		}
	}

	if _, err := o.hybrid.RunCycle(ctx, now); err != nil {
		log.Printf("[ORCHESTRATOR] WARN hybrid scoring failed: %v", err)
	}
}

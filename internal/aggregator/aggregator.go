// Package aggregator implements tumbling-window aggregation of PacketEvents
// into per-(src_ip, window) MetricVectors.
package aggregator

import (
	"context"
	"log"

	"github.com/noctisids/noctis/internal/event"
)

// MetricVector is the five-scalar summary of one closed Window.
type MetricVector struct {
	ConnectionsCount int
	UniquePorts      int
	UniqueDstIPs     int
	TotalBytes       int64
	AvgPacketSize    float64
}

// MetricNames is the fixed feature order shared by the stat detector and
// the ML detector.
var MetricNames = []string{
	"connections_count",
	"unique_ports",
	"unique_dst_ips",
	"total_bytes",
	"avg_packet_size",
}

// Values returns the metric vector as a name -> value map for lookup by the
// stat detector.
func (m MetricVector) Values() map[string]float64 {
	return map[string]float64{
		"connections_count": float64(m.ConnectionsCount),
		"unique_ports":       float64(m.UniquePorts),
		"unique_dst_ips":     float64(m.UniqueDstIPs),
		"total_bytes":        float64(m.TotalBytes),
		"avg_packet_size":    m.AvgPacketSize,
	}
}

// Vector returns the metric vector in MetricNames order, for the ML
// detector's feature extraction.
func (m MetricVector) Vector() []float64 {
	return []float64{
		float64(m.ConnectionsCount),
		float64(m.UniquePorts),
		float64(m.UniqueDstIPs),
		float64(m.TotalBytes),
		m.AvgPacketSize,
	}
}

// Window identifies one tumbling bucket for one source IP.
type Window struct {
	SrcIP       string
	WindowStart int64
	WindowEnd   int64
	Metrics     MetricVector
}

// Sink persists a closed Window. Satisfied by the Store.
type Sink interface {
	UpsertWindow(ctx context.Context, w Window) error
}

type windowKey struct {
	srcIP       string
	windowStart int64
}

type openWindow struct {
	windowStart int64
	connections int
	ports       map[uint16]struct{}
	dstIPs      map[string]struct{}
	totalBytes  int64
}

func newOpenWindow(windowStart int64) *openWindow {
	return &openWindow{
		windowStart: windowStart,
		ports:       make(map[uint16]struct{}),
		dstIPs:      make(map[string]struct{}),
	}
}

func (w *openWindow) metrics() MetricVector {
	avg := 0.0
	if w.connections > 0 {
		avg = float64(w.totalBytes) / float64(w.connections)
	}
	return MetricVector{
		ConnectionsCount: w.connections,
		UniquePorts:      len(w.ports),
		UniqueDstIPs:     len(w.dstIPs),
		TotalBytes:       w.totalBytes,
		AvgPacketSize:    avg,
	}
}

// Aggregator maintains the in-memory open-window map. Owned exclusively by
// the ingestion worker; never shared across goroutines, per §5.
type Aggregator struct {
	windowSeconds int64
	sink          Sink
	open          map[windowKey]*openWindow
	maxSeen       map[string]int64 // src_ip -> latest window_start observed; flushExpired does not read it
}

func New(windowSeconds int64, sink Sink) *Aggregator {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &Aggregator{
		windowSeconds: windowSeconds,
		sink:          sink,
		open:          make(map[windowKey]*openWindow),
		maxSeen:       make(map[string]int64),
	}
}

// WindowStart floors a timestamp to the configured window size.
func (a *Aggregator) WindowStart(ts float64) int64 {
	t := int64(ts)
	return (t / a.windowSeconds) * a.windowSeconds
}

// Ingest appends event to its window's running counters, then flushes every
// open window, of any src_ip, whose end has passed, per §4.3.
func (a *Aggregator) Ingest(ctx context.Context, ev event.PacketEvent) error {
	windowStart := a.WindowStart(ev.Timestamp)
	key := windowKey{srcIP: ev.SrcIP, windowStart: windowStart}

	w, ok := a.open[key]
	if !ok {
		w = newOpenWindow(windowStart)
		a.open[key] = w
	}
	w.connections++
	if ev.DstPort != nil {
		w.ports[*ev.DstPort] = struct{}{}
	}
	if ev.DstIP != "" {
		w.dstIPs[ev.DstIP] = struct{}{}
	}
	w.totalBytes += int64(ev.PacketSize)

	if windowStart > a.maxSeen[ev.SrcIP] {
		a.maxSeen[ev.SrcIP] = windowStart
	}

	return a.flushExpired(ctx, ev.Timestamp)
}

// flushExpired closes every open window, regardless of src_ip, whose
// window_start + W <= ts. This runs off the arriving event's timestamp as
// the global wall clock, per §4.3 step 2 — a quiet host's window must still
// close once a busier host's traffic pushes time past it, not just its own.
func (a *Aggregator) flushExpired(ctx context.Context, ts float64) error {
	t := int64(ts)
	for key, w := range a.open {
		if w.windowStart+a.windowSeconds > t {
			continue
		}
		if err := a.closeWindow(ctx, key, w); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) closeWindow(ctx context.Context, key windowKey, w *openWindow) error {
	win := Window{
		SrcIP:       key.srcIP,
		WindowStart: w.windowStart,
		WindowEnd:   w.windowStart + a.windowSeconds,
		Metrics:     w.metrics(),
	}
	delete(a.open, key)
	if a.sink == nil {
		return nil
	}
	if err := a.sink.UpsertWindow(ctx, win); err != nil {
		log.Printf("[AGGREGATOR] WARN failed to flush window src_ip=%s window_start=%d: %v", win.SrcIP, win.WindowStart, err)
		return err
	}
	return nil
}

// FlushAll writes every open window unconditionally, for clean shutdown.
func (a *Aggregator) FlushAll(ctx context.Context) error {
	var firstErr error
	for key, w := range a.open {
		if err := a.closeWindow(ctx, key, w); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenWindowCount reports how many (src_ip, window) pairs are currently
// buffered, for monitoring memory bounds.
func (a *Aggregator) OpenWindowCount() int {
	return len(a.open)
}

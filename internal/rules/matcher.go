package rules

import (
	"context"
	"log"
	"sync"

	"github.com/noctisids/noctis/internal/event"
)

// AlertSink persists a SignatureAlert. Satisfied by the Store.
type AlertSink interface {
	InsertSignatureAlert(ctx context.Context, a Alert) error
}

// Matcher holds the live, enabled rule set and evaluates packets against it.
// Stateless after load; the rule set itself is protected by a
// single-writer/many-reader lock since installs happen on an administrative
// path and contention is negligible, per §5.
type Matcher struct {
	mu    sync.RWMutex
	bySid map[int]Rule
	sink  AlertSink
}

func NewMatcher(sink AlertSink) *Matcher {
	return &Matcher{bySid: make(map[int]Rule), sink: sink}
}

// Load installs newRules into the live set. A duplicate sid within the
// batch, or one already present in the set, is replaced; other existing
// rules are left untouched (rule hot-reload, §4.4).
func (m *Matcher) Load(newRules []Rule) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range newRules {
		m.bySid[r.Sid] = r
	}
	return len(newRules)
}

// Rules returns a snapshot of the currently loaded rules.
func (m *Matcher) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.bySid))
	for _, r := range m.bySid {
		out = append(out, r)
	}
	return out
}

// Process evaluates pkt against every enabled rule, persists one
// SignatureAlert per match, and returns the alerts that were successfully
// persisted. A Store failure for one alert is logged and does not prevent
// other matches from being persisted, per §7.
func (m *Matcher) Process(ctx context.Context, pkt event.PacketEvent) []Alert {
	if pkt.SrcIP == "" || pkt.DstIP == "" {
		return nil
	}

	m.mu.RLock()
	rules := make([]Rule, 0, len(m.bySid))
	for _, r := range m.bySid {
		rules = append(rules, r)
	}
	m.mu.RUnlock()

	var emitted []Alert
	for _, r := range rules {
		if !r.Matches(pkt) {
			continue
		}
		alert := Alert{
			Timestamp: pkt.Timestamp,
			Sid:       r.Sid,
			SrcIP:     pkt.SrcIP,
			DstIP:     pkt.DstIP,
			SrcPort:   pkt.SrcPort,
			DstPort:   pkt.DstPort,
			Protocol:  pkt.Protocol,
			Msg:       r.Msg,
			Severity:  r.AlertSeverity(pkt.DstPort),
		}
		if m.sink != nil {
			if err := m.sink.InsertSignatureAlert(ctx, alert); err != nil {
				log.Printf("[RULES] WARN sid=%d store write failed: %v", r.Sid, err)
				continue
			}
		}
		emitted = append(emitted, alert)
	}
	return emitted
}

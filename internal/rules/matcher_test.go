package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/noctisids/noctis/internal/event"
)

type fakeSink struct {
	alerts []Alert
}

func (f *fakeSink) InsertSignatureAlert(ctx context.Context, a Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func TestMatcherEmitsOneAlertPerMatch(t *testing.T) {
	sink := &fakeSink{}
	m := NewMatcher(sink)
	loaded, errs := ParseRules(strings.NewReader(`alert tcp any any -> any [1-1024] (msg:"port scan"; sid:1000003;)`))
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	m.Load(loaded)

	for port := uint16(1); port <= 5; port++ {
		p := port
		pkt := event.New(0, "192.168.1.10", "127.0.0.1", nil, &p, event.ProtoTCP, 64)
		m.Process(context.Background(), pkt)
	}
	if len(sink.alerts) != 5 {
		t.Fatalf("expected 5 alerts, got %d", len(sink.alerts))
	}
	for _, a := range sink.alerts {
		if a.Sid != 1000003 {
			t.Errorf("unexpected sid %d", a.Sid)
		}
	}
}

func TestMatcherSeverityByPortClass(t *testing.T) {
	sink := &fakeSink{}
	m := NewMatcher(sink)
	loaded, _ := ParseRules(strings.NewReader(`alert tcp any any -> any 3389 (msg:"rdp"; sid:9001;)`))
	m.Load(loaded)

	port := uint16(3389)
	pkt := event.New(0, "10.0.0.5", "127.0.0.1", nil, &port, event.ProtoTCP, 64)
	m.Process(context.Background(), pkt)
	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert")
	}
	if sink.alerts[0].Severity != SeverityCritical {
		t.Errorf("expected critical severity for port 3389, got %s", sink.alerts[0].Severity)
	}
}

func TestMatcherHotReloadReplacesOnlyMatchingSid(t *testing.T) {
	sink := &fakeSink{}
	m := NewMatcher(sink)
	first, _ := ParseRules(strings.NewReader(`alert tcp any any -> any 22 (msg:"ssh"; sid:1;)`))
	m.Load(first)

	second, _ := ParseRules(strings.NewReader(`alert tcp any any -> any 3389 (msg:"rdp"; sid:9001;)`))
	m.Load(second)

	if len(m.Rules()) != 2 {
		t.Fatalf("expected both rules present after disjoint reload, got %d", len(m.Rules()))
	}

	port := uint16(3389)
	pkt := event.New(0, "10.0.0.5", "127.0.0.1", nil, &port, event.ProtoTCP, 64)
	alerts := m.Process(context.Background(), pkt)
	if len(alerts) != 1 || alerts[0].Sid != 9001 {
		t.Fatalf("expected new rule to be active: %+v", alerts)
	}
}

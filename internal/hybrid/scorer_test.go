package hybrid

import (
	"context"
	"testing"

	"github.com/noctisids/noctis/internal/rules"
)

type fakeStore struct {
	sigAlerts map[string][]rules.Alert
	mlScores  map[string]*MLScoreSnapshot
	hosts     []string
	verdicts  []Verdict
}

func (f *fakeStore) RecentSignatureAlerts(ctx context.Context, srcIP string, sinceTS float64) ([]rules.Alert, error) {
	return f.sigAlerts[srcIP], nil
}

func (f *fakeStore) LatestMLScore(ctx context.Context, srcIP string) (*MLScoreSnapshot, error) {
	return f.mlScores[srcIP], nil
}

func (f *fakeStore) HostsWithRecentWindow(ctx context.Context, sinceTS float64) ([]string, error) {
	return f.hosts, nil
}

func (f *fakeStore) InsertHybridVerdict(ctx context.Context, v Verdict) error {
	f.verdicts = append(f.verdicts, v)
	return nil
}

func TestPortScanScenarioTriggersAllThreeLayers(t *testing.T) {
	store := &fakeStore{
		hosts: []string{"10.0.0.5"},
		sigAlerts: map[string][]rules.Alert{
			"10.0.0.5": {
				{Severity: rules.SeverityHigh, Msg: "port scan signature"},
				{Severity: rules.SeverityMedium, Msg: "repeated SYN"},
			},
		},
		mlScores: map[string]*MLScoreSnapshot{
			"10.0.0.5": {MLScore: 0.8, StatScore: 0.9, MLActive: true},
		},
	}
	s := NewScorer(store, nil)

	verdicts, err := s.RunCycle(context.Background(), 1000)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(verdicts) != 1 {
		t.Fatalf("expected one verdict, got %d", len(verdicts))
	}
	v := verdicts[0]
	if v.Confidence != ConfidenceHigh {
		t.Errorf("expected high confidence with 3 triggered layers, got %v", v.Confidence)
	}
	if v.Severity != SeverityCritical && v.Severity != SeverityHigh {
		t.Errorf("expected a high-severity verdict for a clear multi-layer match, got %v", v.Severity)
	}
}

func TestBenignBrowsingProducesNoVerdict(t *testing.T) {
	store := &fakeStore{
		hosts:     []string{"10.0.0.9"},
		sigAlerts: map[string][]rules.Alert{},
		mlScores: map[string]*MLScoreSnapshot{
			"10.0.0.9": {MLScore: 0.05, StatScore: 0.1, MLActive: true},
		},
	}
	s := NewScorer(store, nil)

	verdicts, err := s.RunCycle(context.Background(), 1000)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(verdicts) != 0 {
		t.Errorf("expected no verdict for benign traffic, got %+v", verdicts)
	}
}

func TestColdStartWithNoTrainedModelRenormalizesWeights(t *testing.T) {
	store := &fakeStore{
		hosts: []string{"10.0.0.5"},
		sigAlerts: map[string][]rules.Alert{
			"10.0.0.5": {{Severity: rules.SeverityCritical, Msg: "ssh brute force"}},
		},
		mlScores: map[string]*MLScoreSnapshot{
			"10.0.0.5": {MLActive: false},
		},
	}
	s := NewScorer(store, nil)

	verdicts, err := s.RunCycle(context.Background(), 1000)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(verdicts) != 1 {
		t.Fatalf("expected a verdict from the signature layer alone, got %d", len(verdicts))
	}
	if verdicts[0].MLScore != 0 {
		t.Errorf("expected ml_score 0 when the ML layer is inactive, got %v", verdicts[0].MLScore)
	}
}

func TestSigComponentScalesWithCountAndSeverity(t *testing.T) {
	oneAlert := []rules.Alert{{Severity: rules.SeverityCritical}}
	score, _ := sigComponent(oneAlert)
	if score <= 0 || score >= 1 {
		t.Errorf("expected a single critical alert to score between 0 and 1, got %v", score)
	}

	fiveAlerts := make([]rules.Alert, 5)
	for i := range fiveAlerts {
		fiveAlerts[i] = rules.Alert{Severity: rules.SeverityCritical}
	}
	fullScore, _ := sigComponent(fiveAlerts)
	if fullScore != 1 {
		t.Errorf("expected 5+ critical alerts to saturate sig_score at 1, got %v", fullScore)
	}
}

func TestFuseConsensusBoostClampsToOne(t *testing.T) {
	combined, triggered := fuse(1, 1, 1, true)
	if triggered != 3 {
		t.Errorf("expected all three layers triggered, got %d", triggered)
	}
	if combined != 1 {
		t.Errorf("expected combined score clamped to 1, got %v", combined)
	}
}

func TestSeverityThresholds(t *testing.T) {
	cases := []struct {
		combined float64
		want     Severity
	}{
		{0.9, SeverityCritical},
		{0.7, SeverityHigh},
		{0.5, SeverityMedium},
		{0.3, SeverityLow},
		{0.1, SeverityInfo},
	}
	for _, c := range cases {
		if got := severityForCombined(c.combined); got != c.want {
			t.Errorf("severityForCombined(%v) = %v, want %v", c.combined, got, c.want)
		}
	}
}

package rules

import (
	"strings"
	"testing"
)

func TestParseRuleValid(t *testing.T) {
	cases := []struct {
		name string
		line string
		sid  int
	}{
		{"simple alert", `alert tcp any any -> any 22 (msg:"ssh probe"; sid:1000001;)`, 1000001},
		{"cidr src", `alert tcp 192.168.1.0/24 any -> any 3389 (msg:"rdp from lan"; sid:1000002;)`, 1000002},
		{"port range", `alert tcp any any -> any [1-1024] (msg:"port scan"; sid:1000003;)`, 1000003},
		{"bidirectional", `alert ip any any <-> any any (msg:"any ip traffic"; sid:1000004; category:"recon")`, 1000004},
		{"set of ports", `alert udp any any -> any [53,123,161] (msg:"common udp"; sid:1000005;)`, 1000005},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseRule(tc.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Sid != tc.sid {
				t.Errorf("sid = %d, want %d", r.Sid, tc.sid)
			}
			if r.Msg == "" {
				t.Errorf("msg must not be empty")
			}
			if !r.Enabled {
				t.Errorf("rule should be enabled by default")
			}
		})
	}
}

func TestParseRuleInvalid(t *testing.T) {
	cases := []string{
		`alert tcp any any -> any 22 (msg:"missing sid";)`,
		`alert tcp any any -> any 22 (sid:1;)`,
		`alert tcp any any any 22 (msg:"too few fields"; sid:1;)`,
		`bogus tcp any any -> any 22 (msg:"bad action"; sid:1;)`,
		`alert bogus any any -> any 22 (msg:"bad proto"; sid:1;)`,
		`alert tcp any any -> any 22 (msg:"bad sid"; sid:-5;)`,
	}
	for _, line := range cases {
		if _, err := ParseRule(line); err == nil {
			t.Errorf("expected error for line %q", line)
		}
	}
}

func TestParseRulesSkipsMalformedButKeepsRest(t *testing.T) {
	input := `# comment line
alert tcp any any -> any 22 (msg:"ssh"; sid:1;)
this is not a rule
alert tcp any any -> any 23 (msg:"telnet"; sid:2;)
`
	loaded, errs := ParseRules(strings.NewReader(input))
	if len(loaded) != 2 {
		t.Fatalf("expected 2 loaded rules, got %d", len(loaded))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 parse error, got %d: %v", len(errs), errs)
	}
}

func TestParseRuleLineContinuation(t *testing.T) {
	input := "alert tcp any any -> any 22 \\\n(msg:\"ssh\"; sid:1;)\n"
	loaded, errs := ParseRules(strings.NewReader(input))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(loaded) != 1 || loaded[0].Sid != 1 {
		t.Fatalf("continuation line was not joined correctly: %+v", loaded)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	line := `alert tcp any any -> any 22 (msg:"ssh probe"; sid:1000001;)`
	r, err := ParseRule(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	serialized := r.Serialize()
	r2, err := ParseRule(serialized)
	if err != nil {
		t.Fatalf("reparse of serialized rule failed: %v", err)
	}
	if r2.Sid != r.Sid || r2.Msg != r.Msg || r2.Protocol != r.Protocol {
		t.Errorf("round trip mismatch: %+v vs %+v", r, r2)
	}
}

package rules

import "testing"

func TestIPSelectorCIDR(t *testing.T) {
	sel, err := ParseIPSelector("192.168.1.0/24")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !sel.Match("192.168.1.42") {
		t.Errorf("expected 192.168.1.42 to match /24")
	}
	if sel.Match("192.168.2.1") {
		t.Errorf("did not expect 192.168.2.1 to match /24")
	}
	// Regression guard for the prefix-string-comparison anti-pattern: an
	// address that shares a textual prefix with the network but is outside
	// the true subnet must not match.
	if sel.Match("192.168.10.1") {
		t.Errorf("prefix-string match leaked through: 192.168.10.1 is not in 192.168.1.0/24")
	}
}

func TestIPSelectorAnyLiteralSet(t *testing.T) {
	any := AnyIP()
	if !any.Match("8.8.8.8") {
		t.Errorf("any must match everything")
	}

	lit, err := ParseIPSelector("10.0.0.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !lit.Match("10.0.0.5") || lit.Match("10.0.0.6") {
		t.Errorf("literal selector matched incorrectly")
	}

	set, err := ParseIPSelector("[10.0.0.1,10.0.0.2]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !set.Match("10.0.0.2") || set.Match("10.0.0.3") {
		t.Errorf("set selector matched incorrectly")
	}
}

func TestPortSelectorVariants(t *testing.T) {
	rangeSel, err := ParsePortSelector("[1-1024]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p500 := uint16(500)
	p2000 := uint16(2000)
	if !rangeSel.Match(&p500) {
		t.Errorf("500 should be in [1-1024]")
	}
	if rangeSel.Match(&p2000) {
		t.Errorf("2000 should not be in [1-1024]")
	}
	if rangeSel.Match(nil) {
		t.Errorf("absent port must not match a range selector")
	}

	setSel, err := ParsePortSelector("[53,123,161]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p53 := uint16(53)
	if !setSel.Match(&p53) {
		t.Errorf("53 should be in set")
	}

	any := AnyPort()
	if !any.Match(nil) {
		t.Errorf("any must match an absent port")
	}
}

package rules

import "github.com/noctisids/noctis/internal/event"

type Action string

const (
	ActionAlert  Action = "alert"
	ActionDrop   Action = "drop"
	ActionReject Action = "reject"
	ActionPass   Action = "pass"
)

type Proto string

const (
	ProtoTCP  Proto = "tcp"
	ProtoUDP  Proto = "udp"
	ProtoICMP Proto = "icmp"
	ProtoIP   Proto = "ip"
)

type RuleDirection string

const (
	DirUnidirectional RuleDirection = "->"
	DirBidirectional  RuleDirection = "<->"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rule is the parsed representation of one signature, keyed by Sid.
type Rule struct {
	Sid       int
	Action    Action
	Protocol  Proto
	SrcIP     IPSelector
	SrcPort   PortSelector
	Direction RuleDirection
	DstIP     IPSelector
	DstPort   PortSelector
	Msg       string
	Options   map[string]string
	Enabled   bool
	Category  string
	Raw       string
}

// criticalPorts and highPorts implement the severity class table of §3.
var criticalPorts = map[uint16]bool{23: true, 135: true, 445: true, 3389: true}
var highPorts = map[uint16]bool{22: true, 5900: true, 5901: true}

// AlertSeverity derives the SignatureAlert severity from the destination
// port class and the rule's action, per §3.
func (r Rule) AlertSeverity(dstPort *uint16) Severity {
	if r.Action == ActionDrop || r.Action == ActionReject {
		return SeverityHigh
	}
	if dstPort != nil {
		if criticalPorts[*dstPort] {
			return SeverityCritical
		}
		if highPorts[*dstPort] {
			return SeverityHigh
		}
	}
	return SeverityMedium
}

// Matches reports whether pkt satisfies every selector of the rule, per the
// matching semantics of §4.4. Protocol "ip" matches any L4 protocol.
// Bidirectional rules match either orientation.
func (r Rule) Matches(pkt event.PacketEvent) bool {
	if !r.Enabled {
		return false
	}
	if !protocolMatches(r.Protocol, pkt.Protocol) {
		return false
	}
	forward := r.SrcIP.Match(pkt.SrcIP) && r.DstIP.Match(pkt.DstIP) &&
		r.SrcPort.Match(pkt.SrcPort) && r.DstPort.Match(pkt.DstPort)
	if forward {
		return true
	}
	if r.Direction == DirBidirectional {
		return r.SrcIP.Match(pkt.DstIP) && r.DstIP.Match(pkt.SrcIP) &&
			r.SrcPort.Match(pkt.DstPort) && r.DstPort.Match(pkt.SrcPort)
	}
	return false
}

func protocolMatches(ruleProto Proto, pktProto event.Protocol) bool {
	if ruleProto == ProtoIP {
		return true
	}
	switch ruleProto {
	case ProtoTCP:
		return pktProto == event.ProtoTCP
	case ProtoUDP:
		return pktProto == event.ProtoUDP
	case ProtoICMP:
		return pktProto == event.ProtoICMP
	default:
		return false
	}
}

// Alert is a SignatureAlert emitted on a rule match.
type Alert struct {
	Timestamp float64
	Sid       int
	SrcIP     string
	DstIP     string
	SrcPort   *uint16
	DstPort   *uint16
	Protocol  event.Protocol
	Msg       string
	Severity  Severity
}

// Package event defines PacketEvent, the unit of data flowing out of the
// packet source and into the aggregator and rule matcher.
package event

import "net"

// Protocol is the L4 protocol of a PacketEvent.
type Protocol string

const (
	ProtoTCP   Protocol = "TCP"
	ProtoUDP   Protocol = "UDP"
	ProtoICMP  Protocol = "ICMP"
	ProtoOther Protocol = "OTHER"
)

// Direction classifies a PacketEvent by the RFC1918/loopback membership of
// its source and destination addresses, per the prefix set {10/8, 172.16/12,
// 192.168/16, 127/8}.
type Direction string

const (
	DirInternal Direction = "internal" // local -> local
	DirOut      Direction = "out"      // local -> external
	DirIn       Direction = "in"       // external -> local
	DirExternal Direction = "external" // external -> external
)

// PacketEvent is one observed L3/L4 frame. Immutable after construction.
type PacketEvent struct {
	Timestamp  float64  `json:"timestamp"`
	SrcIP      string   `json:"src_ip"`
	DstIP      string   `json:"dst_ip"`
	SrcPort    *uint16  `json:"src_port,omitempty"`
	DstPort    *uint16  `json:"dst_port,omitempty"`
	Protocol   Protocol `json:"protocol"`
	PacketSize int      `json:"packet_size"`
	Direction  Direction `json:"direction"`
}

var localNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsLocal reports whether ip falls within RFC1918 or loopback space, using
// true subnet arithmetic (net.IPNet.Contains), never prefix-string
// comparison.
func IsLocal(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range localNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClassifyDirection derives a Direction from the local/external membership
// of src and dst, per §4.1.
func ClassifyDirection(srcIP, dstIP string) Direction {
	srcLocal := IsLocal(srcIP)
	dstLocal := IsLocal(dstIP)
	switch {
	case srcLocal && dstLocal:
		return DirInternal
	case srcLocal && !dstLocal:
		return DirOut
	case !srcLocal && dstLocal:
		return DirIn
	default:
		return DirExternal
	}
}

// New builds a PacketEvent with Direction derived from src/dst, so callers
// never construct one with a stale or hand-computed direction.
func New(ts float64, srcIP, dstIP string, srcPort, dstPort *uint16, proto Protocol, size int) PacketEvent {
	return PacketEvent{
		Timestamp:  ts,
		SrcIP:      srcIP,
		DstIP:      dstIP,
		SrcPort:    srcPort,
		DstPort:    dstPort,
		Protocol:   proto,
		PacketSize: size,
		Direction:  ClassifyDirection(srcIP, dstIP),
	}
}

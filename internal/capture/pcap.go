// Package capture implements the live packet source (C1) over gopacket/pcap,
// the external-capture-device collaborator named in §6. Decoding follows
// the layer-parser pattern the fleet's network sensor inspector uses:
// pre-allocated layer structs reused across reads, rather than the
// slower gopacket.NewPacketSource convenience path.
package capture

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/noctisids/noctis/internal/event"
	"github.com/noctisids/noctis/internal/idserr"
)

const snapLen = 1600

// Source captures live traffic on one interface, satisfying
// orchestrator.PacketSource.
type Source struct {
	iface       string
	promiscuous bool
	bpfFilter   string
}

func New(iface string, promiscuous bool, bpfFilter string) *Source {
	return &Source{iface: iface, promiscuous: promiscuous, bpfFilter: bpfFilter}
}

// Events opens the capture device and streams decoded PacketEvents until
// ctx is cancelled. A failure opening the device is a fatal CaptureError
// delivered on the error channel before both channels close.
func (s *Source) Events(ctx context.Context) (<-chan event.PacketEvent, <-chan error) {
	out := make(chan event.PacketEvent, 256)
	errs := make(chan error, 1)

	handle, err := pcap.OpenLive(s.iface, snapLen, s.promiscuous, pcap.BlockForever)
	if err != nil {
		errs <- &idserr.CaptureError{Iface: s.iface, Err: err}
		close(out)
		close(errs)
		return out, errs
	}
	if s.bpfFilter != "" {
		if err := handle.SetBPFFilter(s.bpfFilter); err != nil {
			errs <- &idserr.CaptureError{Iface: s.iface, Err: err}
		}
	}

	go func() {
		defer handle.Close()
		defer close(out)
		defer close(errs)

		var eth layers.Ethernet
		var ip4 layers.IPv4
		var ip6 layers.IPv6
		var tcp layers.TCP
		var udp layers.UDP
		var icmp4 layers.ICMPv4
		var payload gopacket.Payload
		parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &ip4, &ip6, &tcp, &udp, &icmp4, &payload)
		decoded := make([]gopacket.LayerType, 0, 8)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			data, captureInfo, err := handle.ReadPacketData()
			if err != nil {
				continue
			}
			if err := parser.DecodeLayers(data, &decoded); err != nil {
				continue
			}

			ts := float64(captureInfo.Timestamp.UnixNano()) / 1e9
			ev, ok := toPacketEvent(decoded, &ip4, &ip6, &tcp, &udp, ts, len(data))
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

func toPacketEvent(decoded []gopacket.LayerType, ip4 *layers.IPv4, ip6 *layers.IPv6, tcp *layers.TCP, udp *layers.UDP, ts float64, size int) (event.PacketEvent, bool) {
	var srcIP, dstIP string
	var proto event.Protocol = event.ProtoOther
	var srcPort, dstPort *uint16
	hasIP := false

	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			srcIP, dstIP = ip4.SrcIP.String(), ip4.DstIP.String()
			hasIP = true
		case layers.LayerTypeIPv6:
			srcIP, dstIP = ip6.SrcIP.String(), ip6.DstIP.String()
			hasIP = true
		case layers.LayerTypeTCP:
			proto = event.ProtoTCP
			sp, dp := uint16(tcp.SrcPort), uint16(tcp.DstPort)
			srcPort, dstPort = &sp, &dp
		case layers.LayerTypeUDP:
			proto = event.ProtoUDP
			sp, dp := uint16(udp.SrcPort), uint16(udp.DstPort)
			srcPort, dstPort = &sp, &dp
		case layers.LayerTypeICMPv4:
			proto = event.ProtoICMP
		}
	}
	if !hasIP {
		return event.PacketEvent{}, false
	}
	return event.New(ts, srcIP, dstIP, srcPort, dstPort, proto, size), true
}

// Package packet renders captured packets for logs.
package packet

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var ErrNoNetworkLayer = errors.New("no network layer")

// Summary is the part of a packet the tools print.
type Summary struct {
	Length   int
	Proto    string
	Src      net.IP
	Dst      net.IP
	SrcPort  uint16
	DstPort  uint16
	TCPFlags string
	Payload  int
}

// Summarize decodes data as an IPv4 or IPv6 packet. WinDivert tells which
// through the address record, so the caller passes it in instead of
// sniffing the version nibble. A truncated network or transport header is
// an error; application payloads are counted but not decoded.
func Summarize(data []byte, ipv6 bool) (Summary, error) {
	var (
		ip4     layers.IPv4
		ip6     layers.IPv6
		tcp     layers.TCP
		udp     layers.UDP
		icmp4   layers.ICMPv4
		icmp6   layers.ICMPv6
		payload gopacket.Payload
	)
	first := layers.LayerTypeIPv4
	if ipv6 {
		first = layers.LayerTypeIPv6
	}
	parser := gopacket.NewDecodingLayerParser(first, &ip4, &ip6, &tcp, &udp, &icmp4, &icmp6, &payload)
	parser.IgnoreUnsupported = true

	s := Summary{Length: len(data)}
	decoded := make([]gopacket.LayerType, 0, 4)
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return s, err
	}
	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			s.Src, s.Dst = ip4.SrcIP, ip4.DstIP
			s.Proto = ip4.Protocol.String()
		case layers.LayerTypeIPv6:
			s.Src, s.Dst = ip6.SrcIP, ip6.DstIP
			s.Proto = ip6.NextHeader.String()
		case layers.LayerTypeTCP:
			s.Proto = "TCP"
			s.SrcPort, s.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
			s.TCPFlags = tcpFlags(&tcp)
			s.Payload = len(tcp.Payload)
		case layers.LayerTypeUDP:
			s.Proto = "UDP"
			s.SrcPort, s.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
			s.Payload = len(udp.Payload)
		}
	}
	if s.Src == nil {
		return s, ErrNoNetworkLayer
	}
	return s, nil
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Proto, hostPort(s.Src, s.SrcPort))
	fmt.Fprintf(&b, " -> %s len=%d", hostPort(s.Dst, s.DstPort), s.Length)
	if s.TCPFlags != "" {
		fmt.Fprintf(&b, " flags=%s", s.TCPFlags)
	}
	if s.Payload > 0 {
		fmt.Fprintf(&b, " payload=%d", s.Payload)
	}
	return b.String()
}

func hostPort(ip net.IP, port uint16) string {
	if port == 0 {
		return ip.String()
	}
	return net.JoinHostPort(ip.String(), fmt.Sprint(port))
}

func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{tcp.SYN, "S"},
		{tcp.ACK, "A"},
		{tcp.PSH, "P"},
		{tcp.FIN, "F"},
		{tcp.RST, "R"},
		{tcp.URG, "U"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, "")
}

package packet

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func TestSummarizeIPv4TCP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(192, 0, 2, 1).To4(),
		DstIP:    net.IPv4(198, 51, 100, 2).To4(),
	}
	tcp := &layers.TCP{SrcPort: 50000, DstPort: 443, SYN: true, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ip, tcp, gopacket.Payload([]byte("hello")))

	s, err := Summarize(data, false)
	require.NoError(t, err)
	assert.Equal(t, "TCP", s.Proto)
	assert.Equal(t, "192.0.2.1", s.Src.String())
	assert.Equal(t, "198.51.100.2", s.Dst.String())
	assert.Equal(t, uint16(50000), s.SrcPort)
	assert.Equal(t, uint16(443), s.DstPort)
	assert.Equal(t, "SA", s.TCPFlags)
	assert.Equal(t, 5, s.Payload)
	assert.Equal(t, len(data), s.Length)
	assert.Equal(t, "TCP 192.0.2.1:50000 -> 198.51.100.2:443 len=45 flags=SA payload=5", s.String())
}

func TestSummarizeIPv6UDP(t *testing.T) {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	s, err := Summarize(data, true)
	require.NoError(t, err)
	assert.Equal(t, "UDP", s.Proto)
	assert.Equal(t, uint16(53), s.DstPort)
	assert.Equal(t, "UDP [2001:db8::1]:5353 -> [2001:db8::2]:53 len=51 payload=3", s.String())
}

func TestSummarizeICMPHasNoPorts(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IPv4(10, 0, 0, 1).To4(),
		DstIP:    net.IPv4(10, 0, 0, 2).To4(),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	data := serialize(t, ip, icmp)

	s, err := Summarize(data, false)
	require.NoError(t, err)
	assert.Equal(t, "ICMPv4", s.Proto)
	assert.Equal(t, "ICMPv4 10.0.0.1 -> 10.0.0.2 len=28", s.String())
}

func TestSummarizeGarbage(t *testing.T) {
	_, err := Summarize([]byte{0x45, 0x00}, false)
	assert.Error(t, err)
}

func TestSummarizeTruncatedIPv4(t *testing.T) {
	for _, data := range [][]byte{
		{0x45},
		make([]byte, 19),
	} {
		_, err := Summarize(data, false)
		assert.Error(t, err, "len=%d", len(data))
	}

	_, err := Summarize(nil, false)
	assert.ErrorIs(t, err, ErrNoNetworkLayer)
}

func TestSummarizeTruncatedTCP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(192, 0, 2, 1).To4(),
		DstIP:    net.IPv4(198, 51, 100, 2).To4(),
	}
	data := serialize(t, ip, gopacket.Payload([]byte{0xc3, 0x50, 0x01}))

	_, err := Summarize(data, false)
	assert.Error(t, err)
}

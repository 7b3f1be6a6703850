package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divert-shim/internal/adapter"
	"divert-shim/internal/divert"
	"divert-shim/internal/divert/divertstub"
)

func tcpPacket(t *testing.T) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(192, 0, 2, 1).To4(),
		DstIP:    net.IPv4(198, 51, 100, 2).To4(),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ip, tcp))
	return buf.Bytes()
}

func openStub(t *testing.T, cfg runConfig) (*divertstub.Driver, *adapter.WinDivertAdapter) {
	t.Helper()
	d := divertstub.NewDriver()
	ad, err := adapter.NewWinDivert(d.API(), cfg.Adapter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ad.Close() })
	return d, ad
}

func TestCaptureSniffStopsAtCount(t *testing.T) {
	cfg, err := effectiveConfig(defaultArgs(), nil)
	require.NoError(t, err)
	cfg.Count = 2
	d, ad := openStub(t, cfg)

	data := tcpPacket(t)
	var addr divert.Address
	addr.SetOutbound(true)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Inject(ad.Handle(), data, addr))
	}
	require.NoError(t, d.Inject(ad.Handle(), []byte{0xff}, divert.Address{}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := capture(ctx, ad, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, d.Sent())
	assert.Zero(t, d.ChecksumCalls())
}

func TestCaptureDivertRecalcReinjects(t *testing.T) {
	args := defaultArgs()
	args.Sniff = false
	args.Recalc = true
	args.Count = 1
	cfg, err := effectiveConfig(args, nil)
	require.NoError(t, err)
	d, ad := openStub(t, cfg)

	data := tcpPacket(t)
	require.NoError(t, d.Inject(ad.Handle(), data, divert.Address{}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := capture(ctx, ad, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, d.ChecksumCalls())
	sent := d.Sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Addr.IPChecksum())
	assert.NotEqual(t, []byte{0, 0}, sent[0].Data[10:12])
}

func TestCaptureStopsOnCancel(t *testing.T) {
	cfg, err := effectiveConfig(defaultArgs(), nil)
	require.NoError(t, err)
	_, ad := openStub(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	n, err := capture(ctx, ad, cfg)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestCaptureReportsSendFailure(t *testing.T) {
	args := defaultArgs()
	args.Sniff = false
	cfg, err := effectiveConfig(args, nil)
	require.NoError(t, err)
	d, ad := openStub(t, cfg)

	require.NoError(t, d.Inject(ad.Handle(), tcpPacket(t), divert.Address{}))
	ok, err := d.API().Shutdown(ad.Handle(), divert.ShutdownSend)
	require.True(t, ok)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := capture(ctx, ad, cfg)
	assert.Equal(t, 1, n)
	assert.True(t, errors.Is(err, divert.ErrorNoData), "got %v", err)
}

package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divert-shim/internal/divert"
	"divert-shim/internal/divert/divertstub"
)

var (
	_ Adapter = (*StubAdapter)(nil)
	_ Adapter = (*WinDivertAdapter)(nil)
)

func TestStubAdapterMethods(t *testing.T) {
	s := NewStub()
	ctx := context.Background()

	_, err := s.Recv(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, s.Send(ctx, &Packet{}), ErrNotImplemented)
	assert.ErrorIs(t, s.CalcChecksums(&Packet{}), ErrNotImplemented)
	assert.NoError(t, s.Close())
}

func recvTimeout(t *testing.T, ad *WinDivertAdapter) (*Packet, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return ad.Recv(ctx)
}

func testIPv4Packet() []byte {
	buf := make([]byte, 40)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], 40)
	binary.BigEndian.PutUint16(buf[4:6], 0x1c46)
	binary.BigEndian.PutUint16(buf[6:8], 0x4000)
	buf[8] = 64
	buf[9] = 6
	copy(buf[12:16], []byte{192, 0, 2, 1})
	copy(buf[16:20], []byte{198, 51, 100, 2})
	binary.BigEndian.PutUint16(buf[20:22], 12345)
	binary.BigEndian.PutUint16(buf[22:24], 443)
	buf[32] = 0x50
	buf[33] = 0x02
	return buf
}

func TestWinDivertAdapterDeliversPackets(t *testing.T) {
	d := divertstub.NewDriver()
	ad, err := NewWinDivert(d.API(), Options{Filter: "tcp", Priority: 5, Flags: divert.FlagSniff})
	require.NoError(t, err)

	params, ok := d.Opened(ad.Handle())
	require.True(t, ok)
	assert.Equal(t, "tcp", params.Filter)
	assert.Equal(t, int16(5), params.Priority)

	var addr divert.Address
	addr.SetOutbound(true)
	addr.SetInterface(9, 0)
	data := testIPv4Packet()
	require.NoError(t, d.Inject(ad.Handle(), data, addr))

	pkt, err := recvTimeout(t, ad)
	require.NoError(t, err)
	assert.Equal(t, data, pkt.Data)
	assert.True(t, pkt.Addr.Outbound())
	assert.Equal(t, uint32(9), pkt.Addr.IfIdx())

	require.NoError(t, ad.Close())
	assert.True(t, d.Closed(ad.Handle()))
	assert.NoError(t, ad.Close())

	_, err = ad.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ad.Send(context.Background(), &Packet{Data: data}), ErrClosed)
	assert.Empty(t, d.Sent(), "sniffed packets are never reinjected")
}

func TestOpenFailureReportsModNotFound(t *testing.T) {
	d := divertstub.NewDriver()
	d.FailLoad(errors.New("missing dll"))

	ad, err := NewWinDivert(d.API(), Options{Filter: "true"})
	assert.Nil(t, ad)
	var se *os.SyscallError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "WinDivertOpen", se.Syscall)
	assert.ErrorIs(t, err, divert.ErrorModNotFound)
}

func TestOpenRejectedByDriver(t *testing.T) {
	d := divertstub.NewDriver()
	_, err := NewWinDivert(d.API(), Options{Filter: "true", Priority: divert.PriorityHighest + 1})
	assert.ErrorIs(t, err, divert.ErrorInvalidParameter)

	_, err = NewWinDivert(d.API(), Options{Filter: "bad\x00filter"})
	assert.Error(t, err)
}

func TestFailOpenWhenBufferFull(t *testing.T) {
	d := divertstub.NewDriver()
	ad, err := NewWinDivert(d.API(), Options{Filter: "tcp", Buffer: 1})
	require.NoError(t, err)
	defer ad.Close()

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, d.Inject(ad.Handle(), []byte{i}, divert.Address{}))
	}
	require.Eventually(t, func() bool { return len(d.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), ad.Reinjected())

	pkt, err := recvTimeout(t, ad)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, pkt.Data)
	assert.Equal(t, []byte{2}, d.Sent()[0].Data)
	assert.Equal(t, []byte{3}, d.Sent()[1].Data)
}

func TestCloseReinjectsBufferedPackets(t *testing.T) {
	d := divertstub.NewDriver()
	ad, err := NewWinDivert(d.API(), Options{Filter: "tcp", Buffer: 4})
	require.NoError(t, err)

	require.NoError(t, d.Inject(ad.Handle(), []byte{1}, divert.Address{}))
	require.NoError(t, d.Inject(ad.Handle(), []byte{2}, divert.Address{}))
	require.Eventually(t, func() bool { return len(ad.recv) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ad.Close())
	sent := d.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{1}, sent[0].Data)
	assert.Equal(t, []byte{2}, sent[1].Data)
	assert.Equal(t, int64(2), ad.Reinjected())
	assert.True(t, d.Closed(ad.Handle()))
}

func TestSendAndCalcChecksums(t *testing.T) {
	d := divertstub.NewDriver()
	ad, err := NewWinDivert(d.API(), Options{Filter: "tcp"})
	require.NoError(t, err)
	defer ad.Close()

	pkt := &Packet{Data: testIPv4Packet()}
	pkt.Addr.SetOutbound(true)
	require.NoError(t, ad.CalcChecksums(pkt))
	assert.Equal(t, uint16(0x3253), binary.BigEndian.Uint16(pkt.Data[10:12]))
	assert.True(t, pkt.Addr.IPChecksum())
	assert.Equal(t, 1, d.ChecksumCalls())

	require.NoError(t, ad.Send(context.Background(), pkt))
	require.Len(t, d.Sent(), 1)
	assert.Equal(t, pkt.Data, d.Sent()[0].Data)
	assert.True(t, d.Sent()[0].Addr.Outbound())

	assert.NoError(t, ad.Send(context.Background(), &Packet{}))
	assert.NoError(t, ad.CalcChecksums(nil))

	err = ad.CalcChecksums(&Packet{Data: []byte{0x60, 0, 0}})
	var se *os.SyscallError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "WinDivertHelperCalcChecksums", se.Syscall)
	assert.ErrorIs(t, err, divert.ErrorInvalidParameter)
}

func TestRecvSurfacesDriverError(t *testing.T) {
	d := divertstub.NewDriver()
	api := d.API()
	ad, err := NewWinDivert(api, Options{Filter: "tcp", Flags: divert.FlagSniff})
	require.NoError(t, err)
	defer ad.Close()

	ok, err := api.Shutdown(ad.Handle(), divert.ShutdownRecv)
	require.True(t, ok)
	require.NoError(t, err)

	_, err = recvTimeout(t, ad)
	var se *os.SyscallError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "WinDivertRecv", se.Syscall)
	assert.ErrorIs(t, err, divert.ErrorNoData)

	// The receive goroutine is gone; later calls must not wait for it.
	for i := 0; i < 3; i++ {
		got := make(chan error, 1)
		go func() {
			_, err := ad.Recv(context.Background())
			got <- err
		}()
		select {
		case err := <-got:
			assert.ErrorIs(t, err, divert.ErrorNoData)
		case <-time.After(2 * time.Second):
			t.Fatal("Recv blocked after the receive goroutine failed")
		}
	}
}

func TestRecvHonorsContext(t *testing.T) {
	d := divertstub.NewDriver()
	ad, err := NewWinDivert(d.API(), Options{Filter: "tcp", Flags: divert.FlagSniff})
	require.NoError(t, err)
	defer ad.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ad.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

package divert

import "encoding/binary"

// Address mirrors WINDIVERT_ADDRESS. Its size (80) and alignment (8) are a
// binary contract with WinDivert.dll and must not change.
type Address struct {
	Timestamp int64
	Flags     uint32
	Reserved  uint32
	Data      [64]byte
}

const (
	flagSniffed     = 1 << 16
	flagOutbound    = 1 << 17
	flagLoopback    = 1 << 18
	flagImpostor    = 1 << 19
	flagIPv6        = 1 << 20
	flagIPChecksum  = 1 << 21
	flagTCPChecksum = 1 << 22
	flagUDPChecksum = 1 << 23
)

func (a *Address) Layer() Layer {
	return Layer(a.Flags & 0xff)
}

func (a *Address) Event() Event {
	return Event(a.Flags >> 8 & 0xff)
}

func (a *Address) Sniffed() bool     { return a.Flags&flagSniffed != 0 }
func (a *Address) Outbound() bool    { return a.Flags&flagOutbound != 0 }
func (a *Address) Loopback() bool    { return a.Flags&flagLoopback != 0 }
func (a *Address) Impostor() bool    { return a.Flags&flagImpostor != 0 }
func (a *Address) IPv6() bool        { return a.Flags&flagIPv6 != 0 }
func (a *Address) IPChecksum() bool  { return a.Flags&flagIPChecksum != 0 }
func (a *Address) TCPChecksum() bool { return a.Flags&flagTCPChecksum != 0 }
func (a *Address) UDPChecksum() bool { return a.Flags&flagUDPChecksum != 0 }

func (a *Address) SetLayer(l Layer) {
	a.Flags = a.Flags&^0xff | uint32(l)&0xff
}

func (a *Address) SetEvent(e Event) {
	a.Flags = a.Flags&^0xff00 | uint32(e)<<8
}

func (a *Address) SetOutbound(v bool) { a.setFlag(flagOutbound, v) }
func (a *Address) SetLoopback(v bool) { a.setFlag(flagLoopback, v) }
func (a *Address) SetImpostor(v bool) { a.setFlag(flagImpostor, v) }
func (a *Address) SetIPv6(v bool)     { a.setFlag(flagIPv6, v) }

// SetChecksumsValid marks the IP, TCP and UDP checksums as already correct,
// which is what WinDivertHelperCalcChecksums does on success.
func (a *Address) SetChecksumsValid(ip, tcp, udp bool) {
	a.setFlag(flagIPChecksum, ip)
	a.setFlag(flagTCPChecksum, tcp)
	a.setFlag(flagUDPChecksum, udp)
}

func (a *Address) setFlag(bit uint32, v bool) {
	if v {
		a.Flags |= bit
	} else {
		a.Flags &^= bit
	}
}

// Network layer union: WINDIVERT_DATA_NETWORK.

func (a *Address) IfIdx() uint32    { return binary.LittleEndian.Uint32(a.Data[0:4]) }
func (a *Address) SubIfIdx() uint32 { return binary.LittleEndian.Uint32(a.Data[4:8]) }

func (a *Address) SetInterface(ifIdx, subIfIdx uint32) {
	binary.LittleEndian.PutUint32(a.Data[0:4], ifIdx)
	binary.LittleEndian.PutUint32(a.Data[4:8], subIfIdx)
}

// Flow and socket layer union: WINDIVERT_DATA_FLOW / WINDIVERT_DATA_SOCKET.
// Addresses are four host-order uint32 words; IPv4 is stored as an
// IPv4-mapped IPv6 address.

func (a *Address) EndpointID() uint64       { return binary.LittleEndian.Uint64(a.Data[0:8]) }
func (a *Address) ParentEndpointID() uint64 { return binary.LittleEndian.Uint64(a.Data[8:16]) }
func (a *Address) ProcessID() uint32        { return binary.LittleEndian.Uint32(a.Data[16:20]) }

func (a *Address) LocalAddr() [4]uint32  { return a.words(20) }
func (a *Address) RemoteAddr() [4]uint32 { return a.words(36) }

func (a *Address) LocalPort() uint16  { return binary.LittleEndian.Uint16(a.Data[52:54]) }
func (a *Address) RemotePort() uint16 { return binary.LittleEndian.Uint16(a.Data[54:56]) }
func (a *Address) Protocol() uint8    { return a.Data[56] }

func (a *Address) words(off int) [4]uint32 {
	var w [4]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(a.Data[off+4*i : off+4*i+4])
	}
	return w
}

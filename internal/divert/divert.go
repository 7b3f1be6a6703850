// Package divert binds the WinDivert user-mode library at runtime.
//
// The six entry points the shim re-exports (open, recv, send, shutdown,
// close and the checksum helper) are resolved from the module on first use,
// cached for the life of the process and called through verbatim. Layer,
// priority and flag values are opaque to this package; they are forwarded
// unchanged.
package divert

// DefaultModuleName is the file name the system loader looks for.
const DefaultModuleName = "WinDivert.dll"

// Handle is a WinDivert handle as returned by WinDivertOpen.
type Handle uintptr

// InvalidHandle is INVALID_HANDLE_VALUE, WinDivertOpen's own failure value.
const InvalidHandle = ^Handle(0)

type Layer int32

const (
	LayerNetwork        Layer = 0
	LayerNetworkForward Layer = 1
	LayerFlow           Layer = 2
	LayerSocket         Layer = 3
	LayerReflect        Layer = 4
)

func (l Layer) String() string {
	switch l {
	case LayerNetwork:
		return "network"
	case LayerNetworkForward:
		return "network-forward"
	case LayerFlow:
		return "flow"
	case LayerSocket:
		return "socket"
	case LayerReflect:
		return "reflect"
	default:
		return "unknown"
	}
}

type Event uint8

const (
	EventNetworkPacket   Event = 0
	EventFlowEstablished Event = 1
	EventFlowDeleted     Event = 2
	EventSocketBind      Event = 3
	EventSocketConnect   Event = 4
	EventSocketListen    Event = 5
	EventSocketAccept    Event = 6
	EventSocketClose     Event = 7
	EventReflectOpen     Event = 8
	EventReflectClose    Event = 9
)

type OpenFlags uint64

const (
	FlagSniff     OpenFlags = 0x0001
	FlagDrop      OpenFlags = 0x0002
	FlagRecvOnly  OpenFlags = 0x0004
	FlagSendOnly  OpenFlags = 0x0008
	FlagNoInstall OpenFlags = 0x0010
	FlagFragments OpenFlags = 0x0020
)

const (
	PriorityHighest int16 = 30000
	PriorityLowest  int16 = -30000
)

type ShutdownHow uint32

const (
	ShutdownRecv ShutdownHow = 0x1
	ShutdownSend ShutdownHow = 0x2
	ShutdownBoth ShutdownHow = 0x3
)

type ChecksumFlags uint64

const (
	NoIPChecksum     ChecksumFlags = 1
	NoICMPChecksum   ChecksumFlags = 2
	NoICMPv6Checksum ChecksumFlags = 4
	NoTCPChecksum    ChecksumFlags = 8
	NoUDPChecksum    ChecksumFlags = 16
)

// MaxPacketSize is the largest packet WinDivertRecv can return.
const MaxPacketSize = 0xFFFF

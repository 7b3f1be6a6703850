//go:build windows && cgo && (amd64 || arm64)

package main

/*
#include <windows.h>
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"divert-shim/internal/divert"
)

var api = divert.Default()

// setLastError stores the Win32 code for err in the calling thread's
// last-error slot so the host reads it with GetLastError. It must be the
// last thing an export does: the return through cgo may still run code
// that touches the slot.
func setLastError(err error) {
	if code := divert.ErrnoOf(err); code != 0 {
		C.SetLastError(C.DWORD(code))
	}
}

func boolResult(ok bool, err error) C.BOOL {
	if !ok {
		setLastError(err)
		return C.BOOL(0)
	}
	return C.BOOL(1)
}

//export divert_open
func divert_open(filter *C.char, layer C.int32_t, priority C.int16_t, flags C.uint64_t) C.uintptr_t {
	h, err := api.Open((*byte)(unsafe.Pointer(filter)), divert.Layer(layer), int16(priority), divert.OpenFlags(flags))
	if err != nil {
		setLastError(err)
	}
	return C.uintptr_t(h)
}

//export divert_recv
func divert_recv(handle C.uintptr_t, packet unsafe.Pointer, packetLen C.uint32_t, recvLen *C.uint32_t, addr unsafe.Pointer) C.BOOL {
	return boolResult(api.Recv(
		divert.Handle(handle),
		packet,
		uint32(packetLen),
		(*uint32)(unsafe.Pointer(recvLen)),
		(*divert.Address)(addr),
	))
}

//export divert_send
func divert_send(handle C.uintptr_t, packet unsafe.Pointer, packetLen C.uint32_t, sendLen *C.uint32_t, addr unsafe.Pointer) C.BOOL {
	return boolResult(api.Send(
		divert.Handle(handle),
		packet,
		uint32(packetLen),
		(*uint32)(unsafe.Pointer(sendLen)),
		(*divert.Address)(addr),
	))
}

//export divert_shutdown
func divert_shutdown(handle C.uintptr_t, how C.uint32_t) C.BOOL {
	return boolResult(api.Shutdown(divert.Handle(handle), divert.ShutdownHow(how)))
}

//export divert_close
func divert_close(handle C.uintptr_t) C.BOOL {
	return boolResult(api.Close(divert.Handle(handle)))
}

//export divert_calc_checksums
func divert_calc_checksums(packet unsafe.Pointer, packetLen C.uint32_t, addr unsafe.Pointer, flags C.uint64_t) C.BOOL {
	return boolResult(api.CalcChecksums(
		packet,
		uint32(packetLen),
		(*divert.Address)(addr),
		divert.ChecksumFlags(flags),
	))
}

//go:build windows && (amd64 || arm64)

package divert

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Adapters from a raw *windows.Proc to the typed entry points. Pointer
// arguments are converted inside the Call expression so the runtime keeps
// their referents alive for the duration of the call.

func nativeOpen(sym Symbol) (OpenFunc, bool) {
	p, ok := sym.(*windows.Proc)
	if !ok {
		return nil, false
	}
	return func(filter *byte, layer Layer, priority int16, flags OpenFlags) (Handle, error) {
		r1, _, err := p.Call(
			uintptr(unsafe.Pointer(filter)),
			uintptr(layer),
			uintptr(priority),
			uintptr(flags),
		)
		h := Handle(r1)
		return h, callErr(h == 0 || h == InvalidHandle, err)
	}, true
}

func nativeRecv(sym Symbol) (RecvFunc, bool) {
	p, ok := sym.(*windows.Proc)
	if !ok {
		return nil, false
	}
	return func(h Handle, packet unsafe.Pointer, packetLen uint32, recvLen *uint32, addr *Address) (bool, error) {
		r1, _, err := p.Call(
			uintptr(h),
			uintptr(packet),
			uintptr(packetLen),
			uintptr(unsafe.Pointer(recvLen)),
			uintptr(unsafe.Pointer(addr)),
		)
		return r1 != 0, callErr(r1 == 0, err)
	}, true
}

func nativeSend(sym Symbol) (SendFunc, bool) {
	p, ok := sym.(*windows.Proc)
	if !ok {
		return nil, false
	}
	return func(h Handle, packet unsafe.Pointer, packetLen uint32, sendLen *uint32, addr *Address) (bool, error) {
		r1, _, err := p.Call(
			uintptr(h),
			uintptr(packet),
			uintptr(packetLen),
			uintptr(unsafe.Pointer(sendLen)),
			uintptr(unsafe.Pointer(addr)),
		)
		return r1 != 0, callErr(r1 == 0, err)
	}, true
}

func nativeShutdown(sym Symbol) (ShutdownFunc, bool) {
	p, ok := sym.(*windows.Proc)
	if !ok {
		return nil, false
	}
	return func(h Handle, how ShutdownHow) (bool, error) {
		r1, _, err := p.Call(uintptr(h), uintptr(how))
		return r1 != 0, callErr(r1 == 0, err)
	}, true
}

func nativeClose(sym Symbol) (CloseFunc, bool) {
	p, ok := sym.(*windows.Proc)
	if !ok {
		return nil, false
	}
	return func(h Handle) (bool, error) {
		r1, _, err := p.Call(uintptr(h))
		return r1 != 0, callErr(r1 == 0, err)
	}, true
}

func nativeCalcChecksums(sym Symbol) (CalcChecksumsFunc, bool) {
	p, ok := sym.(*windows.Proc)
	if !ok {
		return nil, false
	}
	return func(packet unsafe.Pointer, packetLen uint32, addr *Address, flags ChecksumFlags) (bool, error) {
		r1, _, err := p.Call(
			uintptr(packet),
			uintptr(packetLen),
			uintptr(unsafe.Pointer(addr)),
			uintptr(flags),
		)
		return r1 != 0, callErr(r1 == 0, err)
	}, true
}

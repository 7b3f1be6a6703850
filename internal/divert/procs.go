package divert

import (
	"errors"
	"fmt"
	"unsafe"
)

// Typed entry points. Each matches one WinDivert export; the dispatch table
// only ever holds functions of these types.
type (
	OpenFunc          func(filter *byte, layer Layer, priority int16, flags OpenFlags) (Handle, error)
	RecvFunc          func(h Handle, packet unsafe.Pointer, packetLen uint32, recvLen *uint32, addr *Address) (bool, error)
	SendFunc          func(h Handle, packet unsafe.Pointer, packetLen uint32, sendLen *uint32, addr *Address) (bool, error)
	ShutdownFunc      func(h Handle, how ShutdownHow) (bool, error)
	CloseFunc         func(h Handle) (bool, error)
	CalcChecksumsFunc func(packet unsafe.Pointer, packetLen uint32, addr *Address, flags ChecksumFlags) (bool, error)
)

// Exported symbol names, in resolution order.
const (
	ProcOpen          = "WinDivertOpen"
	ProcRecv          = "WinDivertRecv"
	ProcSend          = "WinDivertSend"
	ProcShutdown      = "WinDivertShutdown"
	ProcClose         = "WinDivertClose"
	ProcCalcChecksums = "WinDivertHelperCalcChecksums"
)

var ErrSignatureMismatch = errors.New("symbol does not match the expected signature")

type table struct {
	module        Module
	open          OpenFunc
	recv          RecvFunc
	send          SendFunc
	shutdown      ShutdownFunc
	close         CloseFunc
	calcChecksums CalcChecksumsFunc
}

// bindTable resolves every entry point or none. On error the module stays
// loaded.
func bindTable(name string, m Module) (*table, error) {
	t := &table{module: m}
	var err error
	if t.open, err = resolve(name, m, ProcOpen, nativeOpen); err != nil {
		return nil, err
	}
	if t.recv, err = resolve(name, m, ProcRecv, nativeRecv); err != nil {
		return nil, err
	}
	if t.send, err = resolve(name, m, ProcSend, nativeSend); err != nil {
		return nil, err
	}
	if t.shutdown, err = resolve(name, m, ProcShutdown, nativeShutdown); err != nil {
		return nil, err
	}
	if t.close, err = resolve(name, m, ProcClose, nativeClose); err != nil {
		return nil, err
	}
	if t.calcChecksums, err = resolve(name, m, ProcCalcChecksums, nativeCalcChecksums); err != nil {
		return nil, err
	}
	return t, nil
}

// resolve looks up proc and converts it to F. A symbol that is already an F
// is used as is; anything else goes through the platform adapter, and a
// symbol neither accepts fails closed.
func resolve[F any](module string, m Module, proc string, native func(Symbol) (F, bool)) (F, error) {
	var zero F
	sym, err := m.Lookup(proc)
	if err != nil {
		return zero, &LoadError{Module: module, Proc: proc, Err: err}
	}
	if sym == nil {
		return zero, &LoadError{Module: module, Proc: proc, Err: ErrorProcNotFound}
	}
	if fn, ok := sym.(F); ok {
		if isNilFunc(fn) {
			return zero, &LoadError{Module: module, Proc: proc, Err: ErrorProcNotFound}
		}
		return fn, nil
	}
	if fn, ok := native(sym); ok {
		return fn, nil
	}
	return zero, &LoadError{
		Module: module,
		Proc:   proc,
		Err:    fmt.Errorf("%w: got %T", ErrSignatureMismatch, sym),
	}
}

func isNilFunc(fn any) bool {
	switch f := fn.(type) {
	case OpenFunc:
		return f == nil
	case RecvFunc:
		return f == nil
	case SendFunc:
		return f == nil
	case ShutdownFunc:
		return f == nil
	case CloseFunc:
		return f == nil
	case CalcChecksumsFunc:
		return f == nil
	}
	return false
}

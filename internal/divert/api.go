package divert

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"divert-shim/internal/log"
)

// API forwards calls to a lazily bound module.
//
// The first call to any entry point loads the module and resolves all six
// symbols. A successful bind is published once and reused for the life of
// the API; a failed bind is not cached and the next call tries again from
// scratch. Callers racing on an unbound API share a single attempt.
type API struct {
	name   string
	loader Loader

	group   singleflight.Group
	table   atomic.Pointer[table]
	lastErr atomic.Error

	loads    atomic.Int64
	failures atomic.Int64
}

// Stats is a snapshot of an API's binding history.
type Stats struct {
	Loads    int64
	Failures int64
	Bound    bool
}

func New(name string, loader Loader) *API {
	if name == "" {
		name = DefaultModuleName
	}
	if loader == nil {
		loader = SystemLoader
	}
	return &API{name: name, loader: loader}
}

var (
	defaultOnce sync.Once
	defaultAPI  *API
)

// Default returns the process-wide API bound to WinDivert.dll through the
// system loader.
func Default() *API {
	defaultOnce.Do(func() {
		defaultAPI = New(DefaultModuleName, SystemLoader)
	})
	return defaultAPI
}

func (a *API) ModuleName() string { return a.name }

// LastError returns the error from the most recent failed bind, or nil once
// the table is bound.
func (a *API) LastError() error {
	return a.lastErr.Load()
}

func (a *API) Stats() Stats {
	return Stats{
		Loads:    a.loads.Load(),
		Failures: a.failures.Load(),
		Bound:    a.table.Load() != nil,
	}
}

// Bind resolves the dispatch table without calling any entry point.
func (a *API) Bind() error {
	_, err := a.bound()
	return err
}

func (a *API) bound() (*table, error) {
	if t := a.table.Load(); t != nil {
		return t, nil
	}
	v, err, _ := a.group.Do(a.name, func() (any, error) {
		if t := a.table.Load(); t != nil {
			return t, nil
		}
		t, err := a.bind()
		if err != nil {
			a.failures.Inc()
			a.lastErr.Store(err)
			return nil, err
		}
		a.lastErr.Store(nil)
		a.table.Store(t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*table), nil
}

func (a *API) bind() (*table, error) {
	a.loads.Inc()
	m, err := a.loader(a.name)
	if err != nil {
		log.Warnf("divert: load %s failed: %v", a.name, err)
		return nil, &LoadError{Module: a.name, Err: err}
	}
	if m == nil {
		return nil, &LoadError{Module: a.name, Err: ErrorModNotFound}
	}
	t, err := bindTable(a.name, m)
	if err != nil {
		log.Warnf("%v", err)
		return nil, err
	}
	log.Debugf("divert: bound %s", a.name)
	return t, nil
}

// Open forwards to WinDivertOpen. filter must be a NUL-terminated ANSI
// string. On bind failure it returns a zero handle.
func (a *API) Open(filter *byte, layer Layer, priority int16, flags OpenFlags) (Handle, error) {
	t, err := a.bound()
	if err != nil {
		return 0, err
	}
	return t.open(filter, layer, priority, flags)
}

// Recv forwards to WinDivertRecv. packet must point at memory that does not
// move during the call: C memory or a heap allocation.
func (a *API) Recv(h Handle, packet unsafe.Pointer, packetLen uint32, recvLen *uint32, addr *Address) (bool, error) {
	t, err := a.bound()
	if err != nil {
		return false, err
	}
	return t.recv(h, packet, packetLen, recvLen, addr)
}

// Send forwards to WinDivertSend.
func (a *API) Send(h Handle, packet unsafe.Pointer, packetLen uint32, sendLen *uint32, addr *Address) (bool, error) {
	t, err := a.bound()
	if err != nil {
		return false, err
	}
	return t.send(h, packet, packetLen, sendLen, addr)
}

func (a *API) Shutdown(h Handle, how ShutdownHow) (bool, error) {
	t, err := a.bound()
	if err != nil {
		return false, err
	}
	return t.shutdown(h, how)
}

func (a *API) Close(h Handle) (bool, error) {
	t, err := a.bound()
	if err != nil {
		return false, err
	}
	return t.close(h)
}

// CalcChecksums forwards to WinDivertHelperCalcChecksums. addr may be nil.
func (a *API) CalcChecksums(packet unsafe.Pointer, packetLen uint32, addr *Address, flags ChecksumFlags) (bool, error) {
	t, err := a.bound()
	if err != nil {
		return false, err
	}
	return t.calcChecksums(packet, packetLen, addr, flags)
}

// Package divertstub is an in-memory stand-in for WinDivert.dll. It plugs
// into divert.New as a loader so the dispatch table, the capture adapter and
// the tools can be exercised without the driver.
package divertstub

import (
	"encoding/binary"
	"errors"
	"sync"
	"unsafe"

	"divert-shim/internal/divert"
)

var errSymbolMissing = errors.New("symbol not exported")

// Packet is a packet queued for or captured from a stub handle.
type Packet struct {
	Handle divert.Handle
	Data   []byte
	Addr   divert.Address
}

// OpenParams are the arguments a handle was opened with.
type OpenParams struct {
	Filter   string
	Layer    divert.Layer
	Priority int16
	Flags    divert.OpenFlags
}

type handle struct {
	params   OpenParams
	inbound  chan Packet
	recvShut chan struct{}
	shutOnce sync.Once
	sendShut bool
	closed   bool
}

// Driver emulates the six WinDivert exports the shim binds.
type Driver struct {
	mu       sync.Mutex
	next     divert.Handle
	handles  map[divert.Handle]*handle
	sent     []Packet
	loads    int
	lookups  map[string]int
	loadErr  error
	missing  map[string]bool
	override map[string]divert.Symbol
	calcs    int
}

func NewDriver() *Driver {
	return &Driver{
		next:     0x100,
		handles:  make(map[divert.Handle]*handle),
		lookups:  make(map[string]int),
		missing:  make(map[string]bool),
		override: make(map[string]divert.Symbol),
	}
}

// Loader returns a divert.Loader that hands out this driver as the module.
func (d *Driver) Loader() divert.Loader {
	return func(name string) (divert.Module, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.loads++
		if d.loadErr != nil {
			return nil, d.loadErr
		}
		return d, nil
	}
}

// API is shorthand for divert.New over this driver.
func (d *Driver) API() *divert.API {
	return divert.New(divert.DefaultModuleName, d.Loader())
}

func (d *Driver) Lookup(name string) (divert.Symbol, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups[name]++
	if d.missing[name] {
		return nil, errSymbolMissing
	}
	if sym, ok := d.override[name]; ok {
		return sym, nil
	}
	switch name {
	case divert.ProcOpen:
		return divert.OpenFunc(d.open), nil
	case divert.ProcRecv:
		return divert.RecvFunc(d.recv), nil
	case divert.ProcSend:
		return divert.SendFunc(d.send), nil
	case divert.ProcShutdown:
		return divert.ShutdownFunc(d.shutdown), nil
	case divert.ProcClose:
		return divert.CloseFunc(d.close), nil
	case divert.ProcCalcChecksums:
		return divert.CalcChecksumsFunc(d.calcChecksums), nil
	}
	return nil, errSymbolMissing
}

// FailLoad makes every following load return err. nil restores loading.
func (d *Driver) FailLoad(err error) {
	d.mu.Lock()
	d.loadErr = err
	d.mu.Unlock()
}

// Remove hides a symbol from Lookup until Restore is called.
func (d *Driver) Remove(name string) {
	d.mu.Lock()
	d.missing[name] = true
	d.mu.Unlock()
}

func (d *Driver) Restore(name string) {
	d.mu.Lock()
	delete(d.missing, name)
	d.mu.Unlock()
}

// Override makes Lookup return sym for name instead of the built-in export.
func (d *Driver) Override(name string, sym divert.Symbol) {
	d.mu.Lock()
	d.override[name] = sym
	d.mu.Unlock()
}

func (d *Driver) Loads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads
}

func (d *Driver) Lookups(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups[name]
}

// ChecksumCalls counts WinDivertHelperCalcChecksums invocations.
func (d *Driver) ChecksumCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calcs
}

// Inject queues a packet for the next Recv on h.
func (d *Driver) Inject(h divert.Handle, data []byte, addr divert.Address) error {
	d.mu.Lock()
	hd, ok := d.handles[h]
	d.mu.Unlock()
	if !ok || hd.isClosed(d) {
		return divert.ErrorInvalidHandle
	}
	hd.inbound <- Packet{Handle: h, Data: append([]byte(nil), data...), Addr: addr}
	return nil
}

// Sent returns copies of every packet passed to Send, in order.
func (d *Driver) Sent() []Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Packet(nil), d.sent...)
}

func (d *Driver) Opened(h divert.Handle) (OpenParams, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hd, ok := d.handles[h]
	if !ok {
		return OpenParams{}, false
	}
	return hd.params, true
}

func (d *Driver) Closed(h divert.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	hd, ok := d.handles[h]
	return ok && hd.closed
}

func (h *handle) isClosed(d *Driver) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return h.closed
}

func (d *Driver) get(h divert.Handle) (*handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hd, ok := d.handles[h]
	if !ok || hd.closed {
		return nil, false
	}
	return hd, true
}

func (d *Driver) open(filter *byte, layer divert.Layer, priority int16, flags divert.OpenFlags) (divert.Handle, error) {
	if filter == nil || priority > divert.PriorityHighest || priority < divert.PriorityLowest {
		return divert.InvalidHandle, divert.ErrorInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.next
	d.next++
	d.handles[h] = &handle{
		params: OpenParams{
			Filter:   cString(filter),
			Layer:    layer,
			Priority: priority,
			Flags:    flags,
		},
		inbound:  make(chan Packet, 256),
		recvShut: make(chan struct{}),
	}
	return h, nil
}

func (d *Driver) recv(h divert.Handle, packet unsafe.Pointer, packetLen uint32, recvLen *uint32, addr *divert.Address) (bool, error) {
	if packet == nil && packetLen > 0 {
		return false, divert.ErrorInvalidParameter
	}
	hd, ok := d.get(h)
	if !ok {
		return false, divert.ErrorInvalidHandle
	}
	var pkt Packet
	select {
	case pkt = <-hd.inbound:
	case <-hd.recvShut:
		select {
		case pkt = <-hd.inbound:
		default:
			if hd.isClosed(d) {
				return false, divert.ErrorOperationAborted
			}
			return false, divert.ErrorNoData
		}
	}

	n := copy(unsafe.Slice((*byte)(packet), packetLen), pkt.Data)
	if recvLen != nil {
		*recvLen = uint32(n)
	}
	if addr != nil {
		*addr = pkt.Addr
	}
	if n < len(pkt.Data) {
		return false, divert.ErrorInsufficientBuffer
	}
	return true, nil
}

func (d *Driver) send(h divert.Handle, packet unsafe.Pointer, packetLen uint32, sendLen *uint32, addr *divert.Address) (bool, error) {
	if addr == nil || packet == nil {
		return false, divert.ErrorInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	hd, ok := d.handles[h]
	if !ok || hd.closed {
		return false, divert.ErrorInvalidHandle
	}
	if hd.sendShut {
		return false, divert.ErrorNoData
	}
	data := append([]byte(nil), unsafe.Slice((*byte)(packet), packetLen)...)
	d.sent = append(d.sent, Packet{Handle: h, Data: data, Addr: *addr})
	if sendLen != nil {
		*sendLen = packetLen
	}
	return true, nil
}

func (d *Driver) shutdown(h divert.Handle, how divert.ShutdownHow) (bool, error) {
	if how&^divert.ShutdownBoth != 0 || how == 0 {
		return false, divert.ErrorInvalidParameter
	}
	hd, ok := d.get(h)
	if !ok {
		return false, divert.ErrorInvalidHandle
	}
	if how&divert.ShutdownRecv != 0 {
		hd.shutOnce.Do(func() { close(hd.recvShut) })
	}
	if how&divert.ShutdownSend != 0 {
		d.mu.Lock()
		hd.sendShut = true
		d.mu.Unlock()
	}
	return true, nil
}

func (d *Driver) close(h divert.Handle) (bool, error) {
	d.mu.Lock()
	hd, ok := d.handles[h]
	if !ok || hd.closed {
		d.mu.Unlock()
		return false, divert.ErrorInvalidHandle
	}
	hd.closed = true
	d.mu.Unlock()
	hd.shutOnce.Do(func() { close(hd.recvShut) })
	return true, nil
}

// calcChecksums fills in the IPv4 header checksum. Transport checksums are
// left alone; the stub only needs to show that the call reached it.
func (d *Driver) calcChecksums(packet unsafe.Pointer, packetLen uint32, addr *divert.Address, flags divert.ChecksumFlags) (bool, error) {
	d.mu.Lock()
	d.calcs++
	d.mu.Unlock()
	if packet == nil {
		return false, divert.ErrorInvalidParameter
	}
	data := unsafe.Slice((*byte)(packet), packetLen)
	if len(data) < 20 || data[0]>>4 != 4 {
		return false, divert.ErrorInvalidParameter
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < 20 || ihl > len(data) {
		return false, divert.ErrorInvalidParameter
	}
	if flags&divert.NoIPChecksum == 0 {
		data[10], data[11] = 0, 0
		binary.BigEndian.PutUint16(data[10:12], ipv4HeaderChecksum(data[:ihl]))
		if addr != nil {
			addr.SetChecksumsValid(true, addr.TCPChecksum(), addr.UDPChecksum())
		}
	}
	return true, nil
}

func ipv4HeaderChecksum(hdr []byte) uint16 {
	var sum uint32
	for len(hdr) > 1 {
		sum += uint32(binary.BigEndian.Uint16(hdr[:2]))
		hdr = hdr[2:]
	}
	if len(hdr) == 1 {
		sum += uint32(hdr[0]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

func cString(p *byte) string {
	var n uintptr
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

package adapter

import (
	"context"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"go.uber.org/atomic"

	"divert-shim/internal/divert"
)

// WinDivertAdapter reads packets from a WinDivert handle on a background
// goroutine and hands them out through Recv.
type WinDivertAdapter struct {
	api      *divert.API
	handle   divert.Handle
	sniff    bool
	csumOpts divert.ChecksumFlags

	recv chan *Packet
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	// failed is closed once the receive goroutine stops on an error;
	// failErr is set before that and never changes afterwards.
	failed   chan struct{}
	failOnce sync.Once
	failErr  error

	reinjected atomic.Int64
	closeOnce  sync.Once
	closeErr   error
}

// rxBuffer lives on the heap so the driver writes into memory that cannot
// move while WinDivertRecv is blocked.
type rxBuffer struct {
	buf  []byte
	n    uint32
	addr divert.Address
}

func NewWinDivert(api *divert.API, opts Options) (*WinDivertAdapter, error) {
	filterPtr, err := syscall.BytePtrFromString(opts.Filter)
	if err != nil {
		return nil, err
	}
	handle, err := api.Open(filterPtr, opts.Layer, opts.Priority, opts.Flags)
	if err != nil || handle == 0 || handle == divert.InvalidHandle {
		if err == nil {
			err = divert.ErrorInvalidHandle
		}
		return nil, os.NewSyscallError("WinDivertOpen", err)
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	ad := &WinDivertAdapter{
		api:      api,
		handle:   handle,
		sniff:    opts.Flags&divert.FlagSniff != 0,
		csumOpts: opts.ChecksumFlags,
		recv:     make(chan *Packet, buffer),
		failed:   make(chan struct{}),
		ctx:      ctx,
		stop:     cancel,
		done:     make(chan struct{}),
	}
	go ad.recvLoop()
	return ad, nil
}

func (w *WinDivertAdapter) Handle() divert.Handle {
	return w.handle
}

// Reinjected counts packets sent straight back to the driver because the
// receive buffer was full or the adapter was closing.
func (w *WinDivertAdapter) Reinjected() int64 {
	return w.reinjected.Load()
}

func (w *WinDivertAdapter) Recv(ctx context.Context) (*Packet, error) {
	select {
	case pkt := <-w.recv:
		return pkt, nil
	default:
	}
	select {
	case pkt := <-w.recv:
		return pkt, nil
	case <-w.failed:
		return nil, w.failErr
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ctx.Done():
		return nil, ErrClosed
	}
}

func (w *WinDivertAdapter) Send(ctx context.Context, pkt *Packet) error {
	if pkt == nil || len(pkt.Data) == 0 {
		return nil
	}
	if w.ctx.Err() != nil {
		return ErrClosed
	}
	return w.send(pkt)
}

func (w *WinDivertAdapter) send(pkt *Packet) error {
	var sendLen uint32
	ok, err := w.api.Send(
		w.handle,
		unsafe.Pointer(&pkt.Data[0]),
		uint32(len(pkt.Data)),
		&sendLen,
		&pkt.Addr,
	)
	if !ok {
		return os.NewSyscallError("WinDivertSend", err)
	}
	return nil
}

func (w *WinDivertAdapter) CalcChecksums(pkt *Packet) error {
	if pkt == nil || len(pkt.Data) == 0 {
		return nil
	}
	ok, err := w.api.CalcChecksums(
		unsafe.Pointer(&pkt.Data[0]),
		uint32(len(pkt.Data)),
		&pkt.Addr,
		w.csumOpts,
	)
	if !ok {
		return os.NewSyscallError("WinDivertHelperCalcChecksums", err)
	}
	return nil
}

// Close stops the receive goroutine, reinjects packets still buffered when
// the handle is diverting (fail-open) and closes the handle. It is safe to
// call more than once.
func (w *WinDivertAdapter) Close() error {
	w.closeOnce.Do(func() {
		w.stop()
		if ok, err := w.api.Shutdown(w.handle, divert.ShutdownRecv); ok {
			<-w.done
		} else {
			w.closeErr = os.NewSyscallError("WinDivertShutdown", err)
		}

		for drained := false; !drained; {
			select {
			case pkt := <-w.recv:
				if err := w.reinject(pkt); err != nil && w.closeErr == nil {
					w.closeErr = err
				}
			default:
				drained = true
			}
		}

		if ok, err := w.api.Close(w.handle); !ok && w.closeErr == nil {
			w.closeErr = os.NewSyscallError("WinDivertClose", err)
		}
	})
	return w.closeErr
}

// reinject gives a diverted packet back to the network stack. Sniffed
// packets were never taken from the stack, so there is nothing to do.
func (w *WinDivertAdapter) reinject(pkt *Packet) error {
	if w.sniff || pkt == nil || len(pkt.Data) == 0 {
		return nil
	}
	if err := w.send(pkt); err != nil {
		return err
	}
	w.reinjected.Inc()
	return nil
}

func (w *WinDivertAdapter) fail(err error) {
	w.failOnce.Do(func() {
		w.failErr = err
		close(w.failed)
	})
}

func (w *WinDivertAdapter) recvLoop() {
	defer close(w.done)

	rx := &rxBuffer{buf: make([]byte, divert.MaxPacketSize)}
	for {
		if w.ctx.Err() != nil {
			return
		}
		rx.n = 0
		ok, err := w.api.Recv(
			w.handle,
			unsafe.Pointer(&rx.buf[0]),
			uint32(len(rx.buf)),
			&rx.n,
			&rx.addr,
		)
		if !ok {
			if w.ctx.Err() != nil {
				return
			}
			w.fail(os.NewSyscallError("WinDivertRecv", err))
			return
		}
		if rx.n == 0 {
			continue
		}

		pkt := &Packet{
			Data: append([]byte(nil), rx.buf[:rx.n]...),
			Addr: rx.addr,
		}
		select {
		case w.recv <- pkt:
		case <-w.ctx.Done():
			// Do not enqueue after cancel; the packet would sit in the
			// buffer with nobody reading it.
			_ = w.reinject(pkt)
			return
		default:
			// Buffer full: fail-open by reinjecting immediately.
			if err := w.reinject(pkt); err != nil {
				if w.ctx.Err() != nil {
					return
				}
				w.fail(err)
				return
			}
		}
	}
}

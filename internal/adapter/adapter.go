package adapter

import (
	"context"
	"errors"

	"divert-shim/internal/divert"
)

// Adapter abstracts a capture handle's recv/send.
type Adapter interface {
	Recv(ctx context.Context) (*Packet, error)
	Send(ctx context.Context, pkt *Packet) error
	CalcChecksums(pkt *Packet) error
	Close() error
}

var (
	ErrNotImplemented = errors.New("adapter not implemented")
	ErrClosed         = errors.New("adapter closed")
)

// Packet is one captured packet and the address record it came with.
type Packet struct {
	Data []byte
	Addr divert.Address
}

// Options are passed to WinDivertOpen unchanged, except Buffer which sizes
// the adapter's receive channel.
type Options struct {
	Filter        string
	Layer         divert.Layer
	Priority      int16
	Flags         divert.OpenFlags
	ChecksumFlags divert.ChecksumFlags
	Buffer        int
}

const defaultBuffer = 1024

// StubAdapter is used where no capture driver is available.
type StubAdapter struct{}

func NewStub() *StubAdapter {
	return &StubAdapter{}
}

func (s *StubAdapter) Recv(ctx context.Context) (*Packet, error) {
	return nil, ErrNotImplemented
}

func (s *StubAdapter) Send(ctx context.Context, pkt *Packet) error {
	return ErrNotImplemented
}

func (s *StubAdapter) CalcChecksums(pkt *Packet) error {
	return ErrNotImplemented
}

func (s *StubAdapter) Close() error {
	return nil
}

// Package transport defines the contract the channel engine consumes from
// the (externally supplied) keyed and authenticated SSH transport layer,
// plus a reference non-blocking implementation used by the example CLI
// (the engine's tests use an in-memory mock of the interface instead). Real key exchange, cipher/MAC installation and host-key
// verification are not implemented here — this package only frames
// packets over an already-established byte stream.
package transport

import "github.com/sagernet/sshmux/wire"

// Transport is the set of operations the engine needs from the transport
// layer. Implementations must be safe to drive from a single goroutine;
// the engine never calls them concurrently.
type Transport interface {
	// NewPacket returns a writable buffer seeded with room for the packet
	// length/MAC framing the transport will add; callers write the
	// message-type byte followed by the payload.
	NewPacket() *wire.Buffer

	// SendPacket finalizes, MACs, encrypts and enqueues buf for sending.
	// buf must have come from NewPacket.
	SendPacket(buf *wire.Buffer) error

	// SendFlush pushes any enqueued bytes to the wire. It returns
	// ErrWouldBlock if the socket cannot currently accept more data; any
	// other error is fatal to the connection.
	SendFlush() error

	// SendIsPending reports whether SendFlush has unsent bytes queued.
	SendIsPending() bool

	// RecvPacket attempts to receive and decrypt one inbound packet. It
	// returns ErrWouldBlock if no complete packet is currently available.
	RecvPacket() (*wire.Reader, error)

	// Fd returns the raw pollable socket descriptor.
	Fd() int
}

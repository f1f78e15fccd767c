package sshmux

import (
	"github.com/sagernet/sshmux/transport"
	"github.com/sagernet/sshmux/wire"
)

// mockTransport is a minimal in-memory transport.Transport used to drive
// the engine's dispatch logic directly, without a real socket.
type mockTransport struct {
	sent    [][]byte // recorded SendPacket payloads, in order
	inbound [][]byte // queued packets RecvPacket will hand out, in order
	pending bool
	fd      int
}

func newMockTransport() *mockTransport {
	return &mockTransport{fd: 99}
}

func (m *mockTransport) NewPacket() *wire.Buffer { return wire.NewBuffer() }

func (m *mockTransport) SendPacket(buf *wire.Buffer) error {
	cp := append([]byte(nil), buf.Bytes()...)
	m.sent = append(m.sent, cp)
	return nil
}

func (m *mockTransport) SendFlush() error {
	m.pending = false
	return nil
}

func (m *mockTransport) SendIsPending() bool { return m.pending }

func (m *mockTransport) RecvPacket() (*wire.Reader, error) {
	if len(m.inbound) == 0 {
		return nil, transport.ErrWouldBlock
	}
	p := m.inbound[0]
	m.inbound = m.inbound[1:]
	return wire.NewReader(p), nil
}

func (m *mockTransport) Fd() int { return m.fd }

// queue appends a raw packet (message type byte + payload) to be returned
// by the next RecvPacket calls, in order.
func (m *mockTransport) queue(p []byte) { m.inbound = append(m.inbound, p) }

// packetBuilder is a small builder for inbound test packets.
type packetBuilder struct{ b *wire.Buffer }

func newPacket(msgType byte) *packetBuilder {
	b := wire.NewBuffer()
	_ = b.WriteU8(msgType)
	return &packetBuilder{b: b}
}

func (p *packetBuilder) u32(v uint32) *packetBuilder {
	_ = p.b.WriteU32(v)
	return p
}

func (p *packetBuilder) str(s string) *packetBuilder {
	_ = p.b.WriteCString(s)
	return p
}

func (p *packetBuilder) bool(v bool) *packetBuilder {
	_ = p.b.WriteBool(v)
	return p
}

func (p *packetBuilder) bytes() []byte { return p.b.Bytes() }

package sshmux

import (
	"testing"

	"github.com/sagernet/sshmux/pollset"
	"github.com/sagernet/sshmux/wire"
)

func readU8(t *testing.T, r *wire.Reader) uint8 {
	t.Helper()
	v, err := r.ReadU8()
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	return v
}

func readU32(t *testing.T, r *wire.Reader) uint32 {
	t.Helper()
	v, err := r.ReadU32()
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	return v
}

func readStr(t *testing.T, r *wire.Reader) string {
	t.Helper()
	v, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	return v.String()
}

func readBool(t *testing.T, r *wire.Reader) bool {
	t.Helper()
	v, err := r.ReadBool()
	if err != nil {
		t.Fatalf("ReadBool: %v", err)
	}
	return v
}

func sessionConfig(opened *int, closed *int) Config {
	return Config{
		Type: TypeSession,
		Session: SessionConfig{
			PTY:    true,
			Term:   "xterm",
			Width:  80,
			Height: 24,
		},
		Callbacks: Callbacks{
			Open: func(ch *Channel) error {
				*opened++
				return nil
			},
			Closed: func(ch *Channel) {
				*closed++
			},
		},
	}
}

// Open confirmation should trigger follow-up requests in order, then
// CHANNEL_SUCCESS should fire Open exactly once.
func TestScenarioOpenConfirmThenFollowUpsThenSuccess(t *testing.T) {
	mt := newMockTransport()
	conn := NewConnection(mt)
	opened, closed := 0, 0
	cfg := sessionConfig(&opened, &closed)

	ch, err := conn.register(&cfg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(mt.sent) != 1 {
		t.Fatalf("expected CHANNEL_OPEN sent immediately, got %d packets", len(mt.sent))
	}
	r := wire.NewReader(mt.sent[0])
	if readU8(t, r) != MsgChannelOpen {
		t.Fatal("expected CHANNEL_OPEN")
	}
	if got := readStr(t, r); got != "session" {
		t.Fatalf("type = %q", got)
	}
	if got := readU32(t, r); got != 0 {
		t.Fatalf("sender = %d, want 0", got)
	}
	if got := readU32(t, r); got != defaultLocalWindow {
		t.Fatalf("window = %d", got)
	}
	if got := readU32(t, r); got != defaultLocalMaxPacket {
		t.Fatalf("max packet = %d", got)
	}

	mt.queue(newPacket(MsgChannelOpenConfirm).u32(ch.localNum).u32(7).u32(131072).u32(32768).bytes())
	mt.queue(newPacket(MsgChannelSuccess).u32(ch.localNum).bytes())

	if err := conn.processInbound(); err != nil {
		t.Fatalf("processInbound: %v", err)
	}

	if len(mt.sent) != 3 {
		t.Fatalf("expected 3 packets sent total, got %d", len(mt.sent))
	}

	pty := wire.NewReader(mt.sent[1])
	if readU8(t, pty) != MsgChannelRequest {
		t.Fatal("expected CHANNEL_REQUEST for pty-req")
	}
	if got := readU32(t, pty); got != 7 {
		t.Fatalf("pty-req recipient = %d, want 7", got)
	}
	if got := readStr(t, pty); got != "pty-req" {
		t.Fatalf("request name = %q", got)
	}
	if readBool(t, pty) != false {
		t.Fatal("pty-req want_reply should be false")
	}
	if got := readStr(t, pty); got != "xterm" {
		t.Fatalf("term = %q", got)
	}
	if got := readU32(t, pty); got != 80 {
		t.Fatalf("cols = %d", got)
	}
	if got := readU32(t, pty); got != 24 {
		t.Fatalf("rows = %d", got)
	}

	shell := wire.NewReader(mt.sent[2])
	readU8(t, shell)
	if got := readU32(t, shell); got != 7 {
		t.Fatalf("shell recipient = %d", got)
	}
	if got := readStr(t, shell); got != "shell" {
		t.Fatalf("request name = %q", got)
	}
	if readBool(t, shell) != true {
		t.Fatal("shell want_reply should be true")
	}

	if opened != 1 {
		t.Fatalf("open callback fired %d times, want 1", opened)
	}
	if ch.Status() != StatusOpen {
		t.Fatalf("status = %v, want Open", ch.Status())
	}
}

// Scenario 2: CHANNEL_OPEN_FAILURE fires OpenFailed, closes the channel,
// and the connection has nothing left after sweep.
func TestScenarioOpenFailureClosesChannel(t *testing.T) {
	mt := newMockTransport()
	conn := NewConnection(mt)
	var failedReason uint32
	var failedDesc string
	cfg := Config{
		Type: TypeSession,
		Callbacks: Callbacks{
			OpenFailed: func(ch *Channel, reason uint32, desc string) {
				failedReason = reason
				failedDesc = desc
			},
		},
	}
	ch, err := conn.register(&cfg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	mt.queue(newPacket(MsgChannelOpenFailure).u32(ch.localNum).u32(2).str("admin prohibited").str("").bytes())
	if err := conn.processInbound(); err != nil {
		t.Fatalf("processInbound: %v", err)
	}

	if failedReason != 2 || failedDesc != "admin prohibited" {
		t.Fatalf("OpenFailed args = %d, %q", failedReason, failedDesc)
	}
	if ch.Status() != StatusClosed {
		t.Fatalf("status = %v, want Closed", ch.Status())
	}
	conn.sweep()
	if len(conn.channels) != 0 {
		t.Fatalf("expected channel swept, %d remain", len(conn.channels))
	}
}

// Scenario 3: CHANNEL_DATA delivers exactly the payload and debits the
// local window.
func TestScenarioDataDelivery(t *testing.T) {
	mt := newMockTransport()
	conn := NewConnection(mt)
	var received []byte
	cfg := Config{
		Type: TypeSession,
		Callbacks: Callbacks{
			Received: func(ch *Channel, data []byte) {
				received = append([]byte(nil), data...)
			},
		},
	}
	ch, err := conn.register(&cfg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ch.status = StatusOpen
	ch.remoteNum = 7

	mt.queue(newPacket(MsgChannelData).u32(ch.localNum).str("hello").bytes())
	if err := conn.processInbound(); err != nil {
		t.Fatalf("processInbound: %v", err)
	}

	if string(received) != "hello" {
		t.Fatalf("received = %q, want %q", received, "hello")
	}
	if ch.localWindow != defaultLocalWindow-5 {
		t.Fatalf("localWindow = %d, want %d", ch.localWindow, defaultLocalWindow-5)
	}
}

// Scenario 4: two channels watching distinct fds each receive fd_ready
// exactly once per channel per fd per iteration.
func TestScenarioFDReadyPerChannel(t *testing.T) {
	mt := newMockTransport()
	conn := NewConnection(mt)
	var fired1, fired2 int
	cfg1 := Config{Type: TypeSession, Callbacks: Callbacks{FDReady: func(ch *Channel, fd int, interest pollset.Interest) error {
		fired1++
		return nil
	}}}
	cfg2 := Config{Type: TypeSession, Callbacks: Callbacks{FDReady: func(ch *Channel, fd int, interest pollset.Interest) error {
		fired2++
		return nil
	}}}
	ch1, _ := conn.register(&cfg1)
	ch2, _ := conn.register(&cfg2)
	ch1.status = StatusOpen
	ch2.status = StatusOpen
	if err := ch1.WatchFD(10, pollset.Read, 0); err != nil {
		t.Fatalf("watch ch1: %v", err)
	}
	if err := ch2.WatchFD(11, pollset.Read, 0); err != nil {
		t.Fatalf("watch ch2: %v", err)
	}

	conn.dispatchFDReady(10, pollset.Read)
	conn.dispatchFDReady(11, pollset.Read)

	if fired1 != 1 {
		t.Fatalf("channel 1 fd_ready fired %d times, want 1", fired1)
	}
	if fired2 != 1 {
		t.Fatalf("channel 2 fd_ready fired %d times, want 1", fired2)
	}
}

// Scenario 5: Close() on an Open channel fires Closed exactly once; a
// second Close is a no-op.
func TestScenarioHostCloseIsIdempotent(t *testing.T) {
	mt := newMockTransport()
	conn := NewConnection(mt)
	opened, closed := 0, 0
	cfg := sessionConfig(&opened, &closed)
	ch, _ := conn.register(&cfg)
	ch.status = StatusOpen
	ch.remoteNum = 7
	ch.confirmed = true

	ch.Close()
	ch.Close()

	if closed != 1 {
		t.Fatalf("Closed fired %d times, want 1", closed)
	}
	if ch.Status() != StatusClosed {
		t.Fatalf("status = %v, want Closed", ch.Status())
	}
	if len(mt.sent) != 2 { // CHANNEL_OPEN at register, CHANNEL_CLOSE at Close
		t.Fatalf("expected 2 packets sent, got %d", len(mt.sent))
	}
}

// Scenario 6: a CHANNEL_DATA whose inner length exceeds the outer packet
// is a malformed read and is fatal to the connection.
func TestScenarioTruncatedDataIsFatal(t *testing.T) {
	mt := newMockTransport()
	conn := NewConnection(mt)
	cfg := Config{Type: TypeSession}
	ch, _ := conn.register(&cfg)
	ch.status = StatusOpen

	bad := wire.NewBuffer()
	_ = bad.WriteU8(MsgChannelData)
	_ = bad.WriteU32(ch.localNum)
	_ = bad.WriteU32(1000) // claims 1000 bytes of data that are not present
	mt.queue(bad.Bytes())

	err := conn.processInbound()
	if err == nil {
		t.Fatal("expected error on truncated CHANNEL_DATA")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != KindWireMalformed {
		t.Fatalf("expected KindWireMalformed, got %v", err)
	}
}

func TestIDAllocatorReusesLowestFreeSlot(t *testing.T) {
	a := newIDAllocator()
	id0 := a.allocate()
	id1 := a.allocate()
	id2 := a.allocate()
	if id0 != 0 || id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d,%d,%d", id0, id1, id2)
	}
	a.free(id1)
	if got := a.allocate(); got != 1 {
		t.Fatalf("expected reuse of freed id 1, got %d", got)
	}
}

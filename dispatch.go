package sshmux

import (
	"log"

	"github.com/sagernet/sshmux/wire"
)

// dispatch switches on one inbound packet's SSH message number (RFC 4254
// §6). Parsing errors inside a single packet are fatal to the whole
// connection, since they mean the peer sent something malformed.
func (c *Connection) dispatch(msgType uint8, r *wire.Reader) error {
	switch msgType {
	case MsgGlobalRequest:
		return c.handleGlobalRequest(r)
	case MsgChannelOpenConfirm:
		return c.handleOpenConfirm(r)
	case MsgChannelOpenFailure:
		return c.handleOpenFailure(r)
	case MsgChannelSuccess:
		return c.handleChannelSuccess(r)
	case MsgChannelFailure:
		return c.handleChannelFailure(r)
	case MsgChannelRequest:
		return c.handleChannelRequest(r)
	case MsgChannelWindowAdjust:
		return c.handleWindowAdjust(r)
	case MsgChannelData:
		return c.handleData(r)
	case MsgChannelExtendedData:
		return c.handleExtendedData(r)
	case MsgChannelEOF:
		return c.handleEOF(r)
	case MsgChannelClose:
		return c.handleClose(r)
	default:
		log.Printf("sshmux: ignoring unknown packet type %d", msgType)
		return nil
	}
}

func (c *Connection) lookupChannel(num uint32) (*Channel, error) {
	ch, ok := c.channels[num]
	if !ok {
		return nil, newErr(KindProtocolViolation, "unknown channel %d", num)
	}
	return ch, nil
}

func (c *Connection) handleGlobalRequest(r *wire.Reader) error {
	if _, err := r.ReadString(); err != nil { // request name, unused
		return fromWireError(err, "global request name")
	}
	wantReply, err := r.ReadBool()
	if err != nil {
		return fromWireError(err, "global request want_reply")
	}
	if wantReply {
		return c.sendRequestFailure()
	}
	return nil
}

func (c *Connection) handleOpenConfirm(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "open confirm recipient")
	}
	remoteNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "open confirm sender")
	}
	remoteWindow, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "open confirm window")
	}
	remoteMaxPacket, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "open confirm max packet")
	}

	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	ch.remoteNum = remoteNum
	ch.remoteWindow = remoteWindow
	ch.remoteMaxPacket = remoteMaxPacket
	ch.confirmed = true

	switch ch.typ {
	case TypeSession:
		return c.sendSessionFollowUps(ch)
	default:
		return newErr(KindUnsupportedChannelType, "channel %d: unsupported type", ch.localNum)
	}
}

func (c *Connection) handleOpenFailure(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "open failure recipient")
	}
	reason, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "open failure reason")
	}
	desc, err := r.ReadString()
	if err != nil {
		return fromWireError(err, "open failure description")
	}
	if _, err := r.ReadString(); err != nil { // language tag, unused
		return fromWireError(err, "open failure language")
	}

	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	ch.status = StatusClosed
	ch.closeSent = true // peer never created a channel; nothing to close
	if ch.callbacks.OpenFailed != nil {
		ch.callbacks.OpenFailed(ch, reason, desc.String())
	}
	return nil
}

func (c *Connection) handleChannelSuccess(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "channel success recipient")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	if ch.status != StatusRequested {
		return nil // a reply to a later, non-opening request; nothing to do
	}
	ch.status = StatusOpen
	if ch.callbacks.Open != nil {
		if err := ch.callbacks.Open(ch); err != nil {
			ch.Close()
		}
	}
	return nil
}

func (c *Connection) handleChannelFailure(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "channel failure recipient")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	if ch.status == StatusRequested {
		// The follow-up request (shell/exec) that was supposed to open
		// this channel was refused; the channel was already confirmed, so
		// tear it down with our own CHANNEL_CLOSE.
		if ch.callbacks.OpenFailed != nil {
			ch.callbacks.OpenFailed(ch, OpenAdministrativelyProhibited, "request refused")
		}
		ch.status = StatusClosed
		if err := c.sendChannelClose(ch); err != nil {
			return err
		}
	}
	return nil
}

// handleChannelRequest handles server-initiated CHANNEL_REQUESTs. The only
// ones a session client needs to understand are "exit-status" and
// "exit-signal" (RFC 4254 §6.10): a real client needs the remote process's
// exit code. Anything else this implementation doesn't recognize is
// acknowledged with CHANNEL_FAILURE if a reply was requested, since it
// advertises no other channel-request capability — mirroring how
// GLOBAL_REQUEST is handled.
func (c *Connection) handleChannelRequest(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "channel request recipient")
	}
	name, err := r.ReadString()
	if err != nil {
		return fromWireError(err, "channel request name")
	}
	wantReply, err := r.ReadBool()
	if err != nil {
		return fromWireError(err, "channel request want_reply")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}

	recognized := true
	switch name.String() {
	case "exit-status":
		status, err := r.ReadU32()
		if err != nil {
			return fromWireError(err, "exit-status payload")
		}
		ch.exitStatus = &status
	case "exit-signal":
		sig, err := r.ReadString()
		if err != nil {
			return fromWireError(err, "exit-signal name")
		}
		if _, err := r.ReadBool(); err != nil { // core-dumped, unused
			return fromWireError(err, "exit-signal core-dumped")
		}
		if _, err := r.ReadString(); err != nil { // error message, unused
			return fromWireError(err, "exit-signal message")
		}
		if _, err := r.ReadString(); err != nil { // language tag, unused
			return fromWireError(err, "exit-signal language")
		}
		ch.exitSignal = sig.String()
	default:
		recognized = false
	}

	if !wantReply {
		return nil
	}
	if recognized {
		return c.sendChannelRequestSuccess(ch)
	}
	return c.sendChannelRequestFailure(ch)
}

func (c *Connection) handleWindowAdjust(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "window adjust recipient")
	}
	delta, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "window adjust bytes")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	sum, ok := wire.CheckedAdd(ch.remoteWindow, delta)
	if !ok {
		sum = 1<<32 - 1 // saturate rather than wrap on overflow
	}
	ch.remoteWindow = sum
	return nil
}

func (c *Connection) handleData(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "data recipient")
	}
	data, err := r.ReadString()
	if err != nil {
		return fromWireError(err, "data payload")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	return c.deliverPayload(ch, data.Bytes(), func() {
		if ch.callbacks.Received != nil {
			ch.callbacks.Received(ch, data.Bytes())
		}
	})
}

func (c *Connection) handleExtendedData(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "extended data recipient")
	}
	code, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "extended data type")
	}
	data, err := r.ReadString()
	if err != nil {
		return fromWireError(err, "extended data payload")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	return c.deliverPayload(ch, data.Bytes(), func() {
		if ch.callbacks.ReceivedExt != nil {
			ch.callbacks.ReceivedExt(ch, code, data.Bytes())
		}
	})
}

// deliverPayload applies flow-control window accounting (RFC 4254 §5.2)
// then invokes deliver, which calls the appropriate Received/ReceivedExt
// callback.
// Data totalling more than local_window without an intervening
// WINDOW_ADJUST from us is a protocol violation by the peer.
func (c *Connection) deliverPayload(ch *Channel, data []byte, deliver func()) error {
	if uint32(len(data)) > ch.localWindow {
		return newErr(KindProtocolViolation, "channel %d: peer exceeded advertised window", ch.localNum)
	}
	ch.localWindow -= uint32(len(data))
	deliver()

	if ch.localWindow <= defaultLocalWindow/windowReplenishDivisor {
		delta := defaultLocalWindow - ch.localWindow
		if err := c.sendWindowAdjust(ch, delta); err != nil {
			return err
		}
		ch.localWindow += delta
	}
	return nil
}

func (c *Connection) handleEOF(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "eof recipient")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	c.closeFromPeer(ch, false)
	return nil
}

func (c *Connection) handleClose(r *wire.Reader) error {
	localNum, err := r.ReadU32()
	if err != nil {
		return fromWireError(err, "close recipient")
	}
	ch, err := c.lookupChannel(localNum)
	if err != nil {
		return err
	}
	c.closeFromPeer(ch, true)
	return nil
}

// closeFromPeer transitions ch to Closed in response to a peer EOF/CLOSE.
// It invokes Closed at most once, only if the channel had actually
// reached Open, and emits our own CHANNEL_CLOSE when sendOurClose is set
// and one has not already gone out.
func (c *Connection) closeFromPeer(ch *Channel, sendOurClose bool) {
	if ch.status == StatusClosed {
		return
	}
	wasOpen := ch.status == StatusOpen
	ch.status = StatusClosed
	if sendOurClose && !ch.closeSent {
		if err := c.sendChannelClose(ch); err != nil {
			log.Printf("sshmux: channel %d: send close: %v", ch.localNum, err)
		}
	}
	if wasOpen && ch.callbacks.Closed != nil {
		ch.callbacks.Closed(ch)
	}
}

package sshmux

import "github.com/sagernet/sshmux/wire"

// sendChannelOpen emits CHANNEL_OPEN(type, sender=local, window, max_packet).
func (c *Connection) sendChannelOpen(ch *Channel) error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgChannelOpen); err != nil {
		return fromWireError(err, "channel open")
	}
	if err := buf.WriteCString(ch.typ.wireName()); err != nil {
		return fromWireError(err, "channel open type")
	}
	if err := buf.WriteU32(ch.localNum); err != nil {
		return fromWireError(err, "channel open sender")
	}
	if err := buf.WriteU32(ch.localWindow); err != nil {
		return fromWireError(err, "channel open window")
	}
	if err := buf.WriteU32(ch.localMaxPacket); err != nil {
		return fromWireError(err, "channel open max packet")
	}
	return c.transport.SendPacket(buf)
}

// sendChannelRequest emits CHANNEL_REQUEST(recipient, name, want_reply,
// payload...); payload is the already-encoded request-specific fields.
func (c *Connection) sendChannelRequest(remoteNum uint32, name string, wantReply bool, payload []byte) error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgChannelRequest); err != nil {
		return fromWireError(err, "channel request")
	}
	if err := buf.WriteU32(remoteNum); err != nil {
		return fromWireError(err, "channel request recipient")
	}
	if err := buf.WriteCString(name); err != nil {
		return fromWireError(err, "channel request name")
	}
	if err := buf.WriteBool(wantReply); err != nil {
		return fromWireError(err, "channel request want_reply")
	}
	if payload != nil {
		if err := buf.AppendBytes(payload); err != nil {
			return fromWireError(err, "channel request payload")
		}
	}
	return c.transport.SendPacket(buf)
}

// ptyReqPayload encodes RFC 4254 §6.2: string TERM || u32 cols || u32 rows
// || u32 width_px || u32 height_px || string modes (empty here).
func ptyReqPayload(term string, cols, rows uint32) ([]byte, error) {
	b := wire.NewBuffer()
	if err := b.WriteCString(term); err != nil {
		return nil, err
	}
	if err := b.WriteU32(cols); err != nil {
		return nil, err
	}
	if err := b.WriteU32(rows); err != nil {
		return nil, err
	}
	if err := b.WriteU32(0); err != nil { // width in pixels, unused
		return nil, err
	}
	if err := b.WriteU32(0); err != nil { // height in pixels, unused
		return nil, err
	}
	if err := b.WriteCString(""); err != nil { // encoded terminal modes
		return nil, err
	}
	return b.Bytes(), nil
}

// envPayload encodes RFC 4254 §6.4: string name || string value.
func envPayload(name, value string) ([]byte, error) {
	b := wire.NewBuffer()
	if err := b.WriteCString(name); err != nil {
		return nil, err
	}
	if err := b.WriteCString(value); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// execPayload encodes RFC 4254 §6.5's single "command" string field, also
// used verbatim by "subsystem".
func execPayload(command string) ([]byte, error) {
	b := wire.NewBuffer()
	if err := b.WriteCString(command); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// windowChangePayload encodes RFC 4254 §6.7.
func windowChangePayload(w WindowSize) ([]byte, error) {
	b := wire.NewBuffer()
	if err := b.WriteU32(w.Cols); err != nil {
		return nil, err
	}
	if err := b.WriteU32(w.Rows); err != nil {
		return nil, err
	}
	if err := b.WriteU32(w.Width); err != nil {
		return nil, err
	}
	if err := b.WriteU32(w.Height); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// sendSessionFollowUps issues the type-specific requests RFC 4254 expects
// once CHANNEL_OPEN_CONFIRMATION arrives for a session channel: optional
// env vars, an optional pty-req (want_reply=false), then shell or exec
// (want_reply=true).
func (c *Connection) sendSessionFollowUps(ch *Channel) error {
	for _, e := range ch.session.Env {
		payload, err := envPayload(e.Name, e.Value)
		if err != nil {
			return fromWireError(err, "env payload")
		}
		if err := c.sendChannelRequest(ch.remoteNum, "env", false, payload); err != nil {
			return err
		}
	}

	if ch.session.PTY {
		payload, err := ptyReqPayload(ch.session.Term, ch.session.Width, ch.session.Height)
		if err != nil {
			return fromWireError(err, "pty-req payload")
		}
		if err := c.sendChannelRequest(ch.remoteNum, "pty-req", false, payload); err != nil {
			return err
		}
	}

	if ch.session.Command != "" {
		payload, err := execPayload(ch.session.Command)
		if err != nil {
			return fromWireError(err, "exec payload")
		}
		return c.sendChannelRequest(ch.remoteNum, "exec", true, payload)
	}
	return c.sendChannelRequest(ch.remoteNum, "shell", true, nil)
}

// sendWindowChange issues a CHANNEL_REQUEST "window-change" for a resize
// the host pushed through Config.WindowChangeCh.
func (c *Connection) sendWindowChange(ch *Channel, w WindowSize) error {
	payload, err := windowChangePayload(w)
	if err != nil {
		return fromWireError(err, "window-change payload")
	}
	return c.sendChannelRequest(ch.remoteNum, "window-change", false, payload)
}

// sendDataFrame emits CHANNEL_DATA or CHANNEL_EXTENDED_DATA depending on
// msgType.
func (c *Connection) sendDataFrame(ch *Channel, msgType byte, extCode uint32, chunk []byte) error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(msgType); err != nil {
		return fromWireError(err, "data frame")
	}
	if err := buf.WriteU32(ch.remoteNum); err != nil {
		return fromWireError(err, "data frame recipient")
	}
	if msgType == MsgChannelExtendedData {
		if err := buf.WriteU32(extCode); err != nil {
			return fromWireError(err, "data frame ext code")
		}
	}
	if err := buf.WriteData(chunk); err != nil {
		return fromWireError(err, "data frame payload")
	}
	return c.transport.SendPacket(buf)
}

// sendWindowAdjust emits CHANNEL_WINDOW_ADJUST(recipient, bytes).
func (c *Connection) sendWindowAdjust(ch *Channel, delta uint32) error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgChannelWindowAdjust); err != nil {
		return fromWireError(err, "window adjust")
	}
	if err := buf.WriteU32(ch.remoteNum); err != nil {
		return fromWireError(err, "window adjust recipient")
	}
	if err := buf.WriteU32(delta); err != nil {
		return fromWireError(err, "window adjust delta")
	}
	return c.transport.SendPacket(buf)
}

// sendChannelClose emits CHANNEL_CLOSE(recipient) exactly once per channel.
func (c *Connection) sendChannelClose(ch *Channel) error {
	if ch.closeSent {
		return nil
	}
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgChannelClose); err != nil {
		return fromWireError(err, "channel close")
	}
	if err := buf.WriteU32(ch.remoteNum); err != nil {
		return fromWireError(err, "channel close recipient")
	}
	ch.closeSent = true
	return c.transport.SendPacket(buf)
}

// sendChannelRequestSuccess emits CHANNEL_SUCCESS(recipient).
func (c *Connection) sendChannelRequestSuccess(ch *Channel) error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgChannelSuccess); err != nil {
		return fromWireError(err, "channel success")
	}
	if err := buf.WriteU32(ch.remoteNum); err != nil {
		return fromWireError(err, "channel success recipient")
	}
	return c.transport.SendPacket(buf)
}

// sendChannelRequestFailure emits CHANNEL_FAILURE(recipient).
func (c *Connection) sendChannelRequestFailure(ch *Channel) error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgChannelFailure); err != nil {
		return fromWireError(err, "channel failure")
	}
	if err := buf.WriteU32(ch.remoteNum); err != nil {
		return fromWireError(err, "channel failure recipient")
	}
	return c.transport.SendPacket(buf)
}

// sendRequestFailure emits REQUEST_FAILURE in reply to a GLOBAL_REQUEST
// this implementation advertises no capability for.
func (c *Connection) sendRequestFailure() error {
	buf := c.transport.NewPacket()
	if err := buf.WriteU8(MsgRequestFailure); err != nil {
		return fromWireError(err, "request failure")
	}
	return c.transport.SendPacket(buf)
}

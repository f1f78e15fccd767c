// Package sshmux implements the client-side SSH channel multiplexing
// engine: a single-threaded, poll-driven event loop that takes an already
// keyed and authenticated transport connection and drives one or more
// logical channels through open/request/data/close, exposing an
// event-driven interface so a host application can attach local file
// descriptors to remote sessions.
package sshmux

import (
	"log"

	"github.com/sagernet/sshmux/pollset"
	"github.com/sagernet/sshmux/transport"
)

const maxChannels = 64

// Connection is the engine-level state for one multiplexed SSH connection:
// the channel table and a reference to the transport socket. It owns every
// Channel it holds and frees them during sweep; watched fds are never
// owned by the engine — the host opens and closes them.
type Connection struct {
	transport transport.Transport
	channels  map[uint32]*Channel
	ids       *idAllocator
}

// NewConnection wraps t for multiplexing. Run drives the event loop.
func NewConnection(t transport.Transport) *Connection {
	return &Connection{
		transport: t,
		channels:  make(map[uint32]*Channel),
		ids:       newIDAllocator(),
	}
}

// Run registers one channel per config, sends their CHANNEL_OPEN packets,
// and drives the event loop until every channel has reached Closed. It
// returns nil on a clean shutdown, or the first fatal transport/protocol
// error observed.
func (c *Connection) Run(configs []Config) error {
	if len(configs) > maxChannels {
		return newErr(KindTooManyFDs, "requested %d channels, limit %d", len(configs), maxChannels)
	}

	for i := range configs {
		if _, err := c.register(&configs[i]); err != nil {
			c.shutdown()
			return err
		}
	}

	err := c.loop()
	c.shutdown()
	return err
}

// register allocates a channel, sends its CHANNEL_OPEN, and marks it
// Requested.
func (c *Connection) register(cfg *Config) (*Channel, error) {
	ch := &Channel{
		status:          StatusCreated,
		localNum:        c.ids.allocate(),
		localWindow:     defaultLocalWindow,
		localMaxPacket:  defaultLocalMaxPacket,
		typ:             cfg.Type,
		session:         cfg.Session,
		userData:        cfg.UserData,
		callbacks:       cfg.Callbacks,
		windowChangeCh:  cfg.WindowChangeCh,
		conn:            c,
	}
	c.channels[ch.localNum] = ch

	if err := c.sendChannelOpen(ch); err != nil {
		c.ids.free(ch.localNum)
		delete(c.channels, ch.localNum)
		return nil, err
	}
	ch.status = StatusRequested
	return ch, nil
}

// shutdown closes every remaining channel and sweeps the table, run on any
// exit path from Run (clean or fatal).
func (c *Connection) shutdown() {
	for _, ch := range c.channels {
		ch.Close()
	}
	c.sweep()
}

func (c *Connection) sweep() {
	for id, ch := range c.channels {
		if ch.status == StatusClosed {
			c.ids.free(id)
			delete(c.channels, id)
		}
	}
}

// loop is the single-threaded cooperative event loop: sweep dead channels,
// flush pending window-change requests, build the poll table, block in
// poll(2), then dispatch whichever fds came back ready.
func (c *Connection) loop() error {
	for {
		c.sweep()
		if len(c.channels) == 0 {
			return nil
		}

		c.dispatchWindowChanges()

		ps := pollset.New(1 + maxChannels*8)
		addFlags := pollset.Read
		if c.transport.SendIsPending() {
			addFlags |= pollset.Write
		}
		if err := ps.Update(c.transport.Fd(), addFlags, 0); err != nil {
			return wrapErr(KindTooManyFDs, err, "poll set entry 0")
		}
		for _, ch := range c.channels {
			for i := 0; i < ch.nWatch; i++ {
				if err := ps.Update(ch.watch[i].fd, ch.watch[i].interest, 0); err != nil {
					return wrapErr(KindTooManyFDs, err, "poll set channel %d fd %d", ch.localNum, ch.watch[i].fd)
				}
			}
		}
		ps.Sweep()

		if err := ps.Poll(-1); err != nil {
			return wrapErr(KindTransportIO, err, "poll")
		}

		transportFd := c.transport.Fd()
		for _, e := range ps.Entries() {
			if e.Fd == transportFd {
				if e.Readiness&pollset.Read != 0 {
					if err := c.processInbound(); err != nil {
						return err
					}
				}
				if e.Readiness&pollset.Write != 0 {
					if err := c.transport.SendFlush(); err != nil && err != transport.ErrWouldBlock {
						return wrapErr(KindTransportIO, err, "send flush")
					}
				}
				continue
			}
			c.dispatchFDReady(e.Fd, e.Readiness)
		}
	}
}

// dispatchFDReady invokes FDReady on every channel watching fd; a channel
// may watch the same fd as another channel and each is notified once.
func (c *Connection) dispatchFDReady(fd int, readiness pollset.Interest) {
	for _, ch := range c.channels {
		if ch.status == StatusClosed {
			continue
		}
		watched := false
		for i := 0; i < ch.nWatch; i++ {
			if ch.watch[i].fd == fd {
				watched = true
				break
			}
		}
		if !watched || ch.callbacks.FDReady == nil {
			continue
		}
		if err := ch.callbacks.FDReady(ch, fd, readiness); err != nil {
			ch.Close()
		}
		ch.sweepWatch()
	}
}

// dispatchWindowChanges drains one pending resize per channel, non-
// blocking, and turns it into a CHANNEL_REQUEST "window-change".
func (c *Connection) dispatchWindowChanges() {
	for _, ch := range c.channels {
		if ch.status != StatusOpen || ch.windowChangeCh == nil {
			continue
		}
		select {
		case w := <-ch.windowChangeCh:
			if err := c.sendWindowChange(ch, w); err != nil {
				log.Printf("sshmux: window-change for channel %d: %v", ch.localNum, err)
			}
		default:
		}
	}
}

// processInbound pulls decrypted packets from the transport until
// ErrWouldBlock, dispatching each by its first byte (the SSH message
// number, RFC 4254 §6).
func (c *Connection) processInbound() error {
	for {
		r, err := c.transport.RecvPacket()
		if err == transport.ErrWouldBlock {
			return nil
		}
		if err == transport.ErrEOF {
			return wrapErr(KindTransportEOF, err, "recv packet")
		}
		if err != nil {
			return wrapErr(KindTransportIO, err, "recv packet")
		}
		msgType, err := r.ReadU8()
		if err != nil {
			return fromWireError(err, "packet too short for message type")
		}
		if err := c.dispatch(msgType, r); err != nil {
			return err
		}
	}
}

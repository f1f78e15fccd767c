package sshmux

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/sagernet/sshmux/wire"
)

// ErrorKind classifies every failure the engine can surface. Unlike a flat
// sentinel-per-condition scheme, callers switch on Kind to decide whether a
// failure is confined to one channel, fatal to the whole connection, or a
// benign control signal.
type ErrorKind int

const (
	KindOutOfMemory ErrorKind = iota
	KindBufferOverflow
	KindWireMalformed
	KindProtocolViolation
	KindTransportEOF
	KindTransportIO
	KindTooManyFDs
	KindUnsupportedChannelType
)

func (k ErrorKind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out of memory"
	case KindBufferOverflow:
		return "buffer overflow"
	case KindWireMalformed:
		return "wire malformed"
	case KindProtocolViolation:
		return "protocol violation"
	case KindTransportEOF:
		return "transport eof"
	case KindTransportIO:
		return "transport io"
	case KindTooManyFDs:
		return "too many fds"
	case KindUnsupportedChannelType:
		return "unsupported channel type"
	default:
		return "unknown"
	}
}

// Error is the structured failure every public entry point returns: a Kind
// plus a human-readable message, so callers never need a thread-local to
// recover what went wrong.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sshmux: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("sshmux: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(k ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// fromWireError maps a wire.Error (from the codec/buffer layer) onto the
// engine's richer ErrorKind taxonomy: a malformed read (past the end, or a
// length prefix that does not fit) becomes KindWireMalformed, since it means
// the peer sent something malformed; out-of-memory and overflow failures
// keep their KindOutOfMemory/KindBufferOverflow counterparts, and any other
// error is reported as KindTransportIO.
func fromWireError(err error, context string) *Error {
	var we *wire.Error
	if errors.As(err, &we) {
		switch we.Kind {
		case wire.KindOutOfMemory:
			return wrapErr(KindOutOfMemory, err, context)
		case wire.KindOverflow:
			return wrapErr(KindBufferOverflow, err, context)
		case wire.KindMalformed:
			return wrapErr(KindWireMalformed, err, context)
		}
	}
	return wrapErr(KindTransportIO, err, context)
}

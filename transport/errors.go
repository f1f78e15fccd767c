package transport

import "github.com/pkg/errors"

// ErrWouldBlock is the control signal (EWOULDBLOCK) that tells the engine
// to resume polling rather than treat the call as failed. It is never a
// fatal error.
var ErrWouldBlock = errors.New("transport: would block")

// ErrEOF signals the peer closed the underlying connection.
var ErrEOF = errors.New("transport: eof")

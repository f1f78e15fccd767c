// Package pollset implements the fixed-capacity (fd, interest) table the
// channel engine polls each event-loop iteration, and the translation
// between the engine's abstract interest flags and the OS's poll(2)
// readiness bits (golang.org/x/sys/unix.POLLIN/POLLOUT/...).
package pollset

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Interest is the engine's abstract readiness flag set, independent of the
// host OS's poll(2) bit layout.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
	Close
)

// ErrFull is returned by Update when an add would require a new entry but
// the table is already at capacity.
var ErrFull = errors.New("pollset: table is full")

// Entry is one (fd, interest, readiness) row.
type Entry struct {
	Fd        int
	Interest  Interest
	Readiness Interest
}

// Set is a fixed-capacity table of poll entries. The zero value is not
// usable; construct with New.
type Set struct {
	entries []Entry
	cap     int
}

// New returns a Set that holds at most capacity entries.
func New(capacity int) *Set {
	return &Set{entries: make([]Entry, 0, capacity), cap: capacity}
}

// Len returns the number of live entries.
func (s *Set) Len() int { return len(s.entries) }

// Entries returns the live entries. The slice is borrowed and invalidated
// by the next mutating call.
func (s *Set) Entries() []Entry { return s.entries }

// indexOf returns the index of fd's entry, or -1.
func (s *Set) indexOf(fd int) int {
	for i := range s.entries {
		if s.entries[i].Fd == fd {
			return i
		}
	}
	return -1
}

// Update merges interest for fd: if fd already has an entry, its interest
// becomes (interest | add) &^ remove; otherwise a new entry is created with
// add &^ remove, provided the table has room. A remove-only call against an
// fd that is not present is a no-op success — it never fails for lack of
// capacity. Callers are expected to call Sweep after Update to drop entries
// whose interest has fallen to zero.
func (s *Set) Update(fd int, add, remove Interest) error {
	if i := s.indexOf(fd); i >= 0 {
		s.entries[i].Interest = (s.entries[i].Interest | add) &^ remove
		return nil
	}
	interest := add &^ remove
	if interest == 0 {
		return nil
	}
	if len(s.entries) >= s.cap {
		return ErrFull
	}
	s.entries = append(s.entries, Entry{Fd: fd, Interest: interest})
	return nil
}

// Remove drops fd's entry entirely, if present. Always succeeds.
func (s *Set) Remove(fd int) {
	if i := s.indexOf(fd); i >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
	}
}

// Sweep drops every entry whose interest mask is zero.
func (s *Set) Sweep() {
	out := s.entries[:0]
	for _, e := range s.entries {
		if e.Interest != 0 {
			out = append(out, e)
		}
	}
	s.entries = out
}

// ToPollFd translates interest into the OS poll(2) event mask:
// Read|Close -> POLLIN|POLLHUP, Write -> POLLOUT.
func ToPollFd(fd int, interest Interest) unix.PollFd {
	var events int16
	if interest&(Read|Close) != 0 {
		events |= unix.POLLIN | unix.POLLHUP
	}
	if interest&Write != 0 {
		events |= unix.POLLOUT
	}
	return unix.PollFd{Fd: int32(fd), Events: events}
}

// FromRevents translates OS readiness bits back into the engine's abstract
// Interest flags: POLLIN|POLLPRI -> Read, POLLHUP -> Close,
// POLLOUT|POLLWRBAND -> Write.
func FromRevents(revents int16) Interest {
	var i Interest
	if revents&(unix.POLLIN|unix.POLLPRI) != 0 {
		i |= Read
	}
	if revents&unix.POLLHUP != 0 {
		i |= Close
	}
	if revents&(unix.POLLOUT|unix.POLLWRBAND) != 0 {
		i |= Write
	}
	return i
}

// Poll builds the unix.PollFd slice for the current entries (in index
// order) and issues a poll(2) call with the given timeout in milliseconds
// (-1 blocks indefinitely), retrying transparently on EINTR. On return,
// each entry's Readiness field is updated from the OS result.
func (s *Set) Poll(timeoutMs int) error {
	fds := make([]unix.PollFd, len(s.entries))
	for i, e := range s.entries {
		fds[i] = ToPollFd(e.Fd, e.Interest)
	}
	for {
		_, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "pollset: poll")
		}
		break
	}
	for i := range s.entries {
		s.entries[i].Readiness = FromRevents(fds[i].Revents)
	}
	return nil
}

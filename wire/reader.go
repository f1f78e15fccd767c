package wire

// String is a borrowed length-prefixed view into a Reader's backing bytes —
// the SSH "string" type: not zero-terminated, ordering and equality are
// lexicographic byte compare with length as the final tiebreaker.
//
// A String does not own storage. It is only valid as long as the packet
// buffer that produced it is alive; callers that need to retain the bytes
// past the current inbound packet must copy them out.
type String struct {
	b []byte
}

// Bytes returns the borrowed slice.
func (s String) Bytes() []byte { return s.b }

// Len returns the view's length.
func (s String) Len() int { return len(s.b) }

// String renders the view as a Go string (a copy).
func (s String) String() string { return string(s.b) }

// Equal compares two views lexicographically, falling back to length.
func (s String) Equal(o String) bool {
	return s.Compare(o) == 0
}

// Compare returns -1, 0 or 1 the way bytes.Compare does, with length as the
// final tiebreaker when one view is a strict prefix of the other.
func (s String) Compare(o String) int {
	n := len(s.b)
	if len(o.b) < n {
		n = len(o.b)
	}
	for i := 0; i < n; i++ {
		if s.b[i] != o.b[i] {
			if s.b[i] < o.b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(s.b) < len(o.b):
		return -1
	case len(s.b) > len(o.b):
		return 1
	default:
		return 0
	}
}

// Reader is a position-tracked cursor over borrowed bytes. It never owns
// the backing storage, so dropping a Reader never frees anything; every
// read is bounds-checked against overflow before advancing the position.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential, bounds-checked reads.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Len returns the total number of backing bytes.
func (r *Reader) Len() int { return len(r.b) }

// Pos returns the current read position.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.b) - r.pos }

// Seek moves the cursor to an absolute position; it fails if pos is outside
// [0, Len()].
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.b) {
		return newError(KindMalformed, "seek %d out of range for length %d", pos, len(r.b))
	}
	r.pos = pos
	return nil
}

// Rewind resets the cursor to the start.
func (r *Reader) Rewind() { r.pos = 0 }

// checkedAdvance verifies pos+need does not overflow and does not exceed
// len(r.b), returning the new position without applying it.
func (r *Reader) checkedAdvance(need int) (int, error) {
	if need < 0 {
		return 0, newError(KindMalformed, "negative read size %d", need)
	}
	next := r.pos + need
	if next < r.pos {
		return 0, newError(KindMalformed, "position %d + %d overflows", r.pos, need)
	}
	if next > len(r.b) {
		return 0, newError(KindMalformed, "read of %d bytes at position %d exceeds length %d", need, r.pos, len(r.b))
	}
	return next, nil
}

// ReadSkip advances the cursor by n bytes without returning them.
func (r *Reader) ReadSkip(n int) error {
	next, err := r.checkedAdvance(n)
	if err != nil {
		return err
	}
	r.pos = next
	return nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	next, err := r.checkedAdvance(1)
	if err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos = next
	return v, nil
}

// ReadBool reads a one-byte boolean: 0 is false, anything else is true.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadU32 reads a big-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	next, err := r.checkedAdvance(4)
	if err != nil {
		return 0, err
	}
	v := uint32(r.b[r.pos])<<24 | uint32(r.b[r.pos+1])<<16 | uint32(r.b[r.pos+2])<<8 | uint32(r.b[r.pos+3])
	r.pos = next
	return v, nil
}

// ReadString reads a u32 length followed by that many bytes, returning a
// borrowed view into the reader's backing store. It never advances past
// the end on a truncated input: on error the position is left at the
// length prefix's start, not mid-payload.
func (r *Reader) ReadString() (String, error) {
	start := r.pos
	n, err := r.ReadU32()
	if err != nil {
		return String{}, err
	}
	next, err := r.checkedAdvance(int(n))
	if err != nil {
		r.pos = start
		return String{}, err
	}
	view := r.b[r.pos:next]
	r.pos = next
	return String{b: view}, nil
}

// ReadBytes returns a borrowed view of the next n raw bytes, with no length
// prefix of its own — unlike ReadString, the length is supplied by the
// caller (e.g. already read from an outer frame).
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	next, err := r.checkedAdvance(n)
	if err != nil {
		return nil, err
	}
	view := r.b[r.pos:next]
	r.pos = next
	return view, nil
}

// ReadUntil returns a borrowed view of the bytes up to (not including) the
// first occurrence of sentinel, advancing past the sentinel. If sentinel is
// not found, the remainder of the reader is returned and the cursor is
// advanced to the end; this is not an error.
func (r *Reader) ReadUntil(sentinel byte) String {
	for i := r.pos; i < len(r.b); i++ {
		if r.b[i] == sentinel {
			view := r.b[r.pos:i]
			r.pos = i + 1
			return String{b: view}
		}
	}
	view := r.b[r.pos:]
	r.pos = len(r.b)
	return String{b: view}
}

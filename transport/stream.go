package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sys/unix"

	"github.com/sagernet/sshmux/wire"
)

const pbkdf2Iterations = 4096

// StreamTransport is a reference Transport over a raw TCP connection. It is
// not a real SSH record layer — no key exchange, no MAC, no rekeying — it
// exists so the engine has something concrete to drive in the example CLI. Key material is derived the way xtaci/kcptun derives its KCP
// block-cipher key: pbkdf2.Key over a shared secret and salt.
type StreamTransport struct {
	conn net.Conn
	fd   int

	encryptor cipher.Stream
	decryptor cipher.Stream

	outQueue *wire.Buffer // framed, already-encrypted bytes awaiting flush
	outSent  int          // bytes of outQueue already written to the socket

	inRaw *wire.Buffer // raw bytes read off the socket, not yet a full frame
}

// NewStreamTransport wraps conn, deriving symmetric send/receive keystreams
// from secret and switching the socket to non-blocking mode.
func NewStreamTransport(conn net.Conn, secret, salt []byte) (*StreamTransport, error) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, errors.New("transport: StreamTransport requires a *net.TCPConn")
	}

	sendKey := pbkdf2.Key(secret, append(append([]byte{}, salt...), 's'), pbkdf2Iterations, 32, sha1.New)
	recvKey := pbkdf2.Key(secret, append(append([]byte{}, salt...), 'r'), pbkdf2Iterations, 32, sha1.New)

	sendBlock, err := aes.NewCipher(sendKey)
	if err != nil {
		return nil, errors.Wrap(err, "transport: derive send cipher")
	}
	recvBlock, err := aes.NewCipher(recvKey)
	if err != nil {
		return nil, errors.Wrap(err, "transport: derive recv cipher")
	}
	var iv [aes.BlockSize]byte

	st := &StreamTransport{
		conn:      conn,
		encryptor: cipher.NewCTR(sendBlock, iv[:]),
		decryptor: cipher.NewCTR(recvBlock, iv[:]),
		outQueue:  wire.NewBuffer(),
		inRaw:     wire.NewBuffer(),
	}

	rawConn, err := tcp.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "transport: SyscallConn")
	}
	var ctrlErr error
	err = rawConn.Control(func(fd uintptr) {
		st.fd = int(fd)
		ctrlErr = unix.SetNonblock(int(fd), true)
	})
	if err != nil {
		return nil, errors.Wrap(err, "transport: control")
	}
	if ctrlErr != nil {
		return nil, errors.Wrap(ctrlErr, "transport: set nonblock")
	}
	return st, nil
}

// Fd returns the raw pollable socket descriptor.
func (t *StreamTransport) Fd() int { return t.fd }

// NewPacket returns an empty buffer; the caller writes the message-type
// byte followed by the payload fields.
func (t *StreamTransport) NewPacket() *wire.Buffer {
	return wire.NewBuffer()
}

// SendPacket encrypts a copy of buf's contents (buf itself is left as it
// is) and appends it as a u32-length-prefixed frame to the pending output
// queue.
func (t *StreamTransport) SendPacket(buf *wire.Buffer) error {
	payload := buf.Bytes()
	ciphertext := make([]byte, len(payload))
	t.encryptor.XORKeyStream(ciphertext, payload)

	if err := t.outQueue.WriteU32(uint32(len(ciphertext))); err != nil {
		return errors.Wrap(err, "transport: frame length")
	}
	if err := t.outQueue.AppendBytes(ciphertext); err != nil {
		return errors.Wrap(err, "transport: frame payload")
	}
	return nil
}

// SendIsPending reports whether bytes remain to be flushed.
func (t *StreamTransport) SendIsPending() bool {
	return t.outSent < t.outQueue.Len()
}

// SendFlush pushes as much of the pending queue to the socket as it will
// accept without blocking.
func (t *StreamTransport) SendFlush() error {
	for t.SendIsPending() {
		pending := t.outQueue.Bytes()[t.outSent:]
		n, err := writeNonblocking(t.fd, pending)
		t.outSent += n
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWouldBlock
		}
	}
	t.outQueue.Clear()
	t.outSent = 0
	return nil
}

func writeNonblocking(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, errors.Wrap(err, "transport: write")
	}
	return n, nil
}

// RecvPacket attempts to read one complete decrypted frame. It returns
// ErrWouldBlock if a full frame is not yet available.
func (t *StreamTransport) RecvPacket() (*wire.Reader, error) {
	// Pull whatever bytes are currently available without blocking.
	readBuf := make([]byte, 65536)
	for {
		n, err := unix.Read(t.fd, readBuf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			return nil, errors.Wrap(err, "transport: read")
		}
		if n == 0 {
			return nil, ErrEOF
		}
		if err := t.inRaw.AppendBytes(readBuf[:n]); err != nil {
			return nil, errors.Wrap(err, "transport: buffer inbound")
		}
		if n < len(readBuf) {
			break
		}
	}

	r := wire.NewReader(t.inRaw.Bytes())
	length, err := r.ReadU32()
	if err != nil {
		return nil, ErrWouldBlock
	}
	if r.Remaining() < int(length) {
		return nil, ErrWouldBlock
	}
	frame, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(frame))
	t.decryptor.XORKeyStream(plaintext, frame)

	consumed := 4 + int(length)
	if err := t.inRaw.RemoveData(0, consumed); err != nil {
		return nil, errors.Wrap(err, "transport: drain inbound")
	}
	return wire.NewReader(plaintext), nil
}

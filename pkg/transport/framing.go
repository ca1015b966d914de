package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMessageTooLarge is returned when a frame's declared or actual
// length exceeds maxFrameSize.
var ErrMessageTooLarge = errors.New("transport: message too large")

// maxFrameSize bounds a single length-prefixed frame, defending the
// reader against a corrupt or hostile length prefix demanding an
// unbounded allocation.
const maxFrameSize = 1 << 20

// WriteFrame writes data to w as a 4-byte big-endian length prefix
// followed by data itself. Used by Link over both a TCP connection and
// the in-memory Pipe, so a single framing format carries
// handshake and steady-state channel bytes across any byte-stream.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return ErrMessageTooLarge
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(data)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit: %w", n, ErrMessageTooLarge)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

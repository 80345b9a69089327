package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single wire frame's body, mirroring the teacher's
// frame-size ceiling (munonun-Web4/internal/proto.MaxFrameSize).
const MaxFrameSize = 1 << 20

// EncodeFrame prepends the version byte and a 4-byte big-endian length to
// body, producing a complete on-wire frame.
func EncodeFrame(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("wire: empty frame body")
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame body too large (%d > %d)", len(body), MaxFrameSize)
	}
	out := make([]byte, 1+4+len(body))
	out[0] = CurrentVersion
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out, nil
}

// ReadFrame reads one version-prefixed, length-prefixed frame from r and
// returns its body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != CurrentVersion {
		return nil, ErrUnsupportedVersion
	}
	n := binary.BigEndian.Uint32(hdr[1:5])
	if n == 0 || n > MaxFrameSize {
		return nil, ErrMalformedFrame
	}
	body := make([]byte, int(n))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame encodes and writes body to w in full.
func WriteFrame(w io.Writer, body []byte) error {
	frame, err := EncodeFrame(body)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("wire: short write")
		}
		total += n
	}
	return nil
}

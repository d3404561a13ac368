package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameLen caps the length prefix so a malicious or corrupt peer cannot
// force an unbounded allocation before the payload is even read.
const MaxFrameLen = 16 * 1024 * 1024

// lengthPrefixSize is the byte count of the big-endian envelope size around every
// msgpack-encoded Frame. No pack library wraps this exact shape, so it is
// hand-written; the payload itself is never hand-rolled.
const lengthPrefixSize = 4

func encodeFrame(w io.Writer, f Frame) error {
	body, err := msgpack.Marshal(&f)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if len(body) > MaxFrameLen {
		return fmt.Errorf("wire: encoded frame of %d bytes exceeds %d byte cap", len(body), MaxFrameLen)
	}

	var hdr [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func decodeFrame(r io.Reader) (Frame, error) {
	var hdr [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return Frame{}, fmt.Errorf("wire: frame length %d exceeds %d byte cap", n, MaxFrameLen)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	var f Frame
	if err := msgpack.Unmarshal(body, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	return f, nil
}

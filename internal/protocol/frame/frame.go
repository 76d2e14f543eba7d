package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// HeaderLen is the fixed length-prefix size in bytes.
const HeaderLen = 4

var ErrFrameTooLarge = errors.New("frame: frame too large")

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1 << 20,
	}
}

// ReadFrame reads one length-prefixed payload from r.
//
// A stream that closes before a full header arrives is a clean
// end-of-stream and reports io.EOF. A declared length above
// limits.MaxFrameBytes reports ErrFrameTooLarge without reading the
// payload off the wire.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > limits.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed payload to w.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if uint64(len(payload)) > uint64(limits.MaxFrameBytes) {
		return ErrFrameTooLarge
	}

	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != HeaderLen+len(payload) {
		t.Fatalf("unexpected encoded size: %d", buf.Len())
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch: %q", string(out))
	}
}

func TestReadFrameEmptyStreamIsCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFramePartialHeaderIsCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 1}), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

// countingReader fails the test if the codec reads past the header of an
// oversized frame.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestReadFrameOversizedHeaderDoesNotReadPayload(t *testing.T) {
	limits := Limits{MaxFrameBytes: 16}
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], 17)
	body := append(hdr[:], bytes.Repeat([]byte{'x'}, 17)...)

	cr := &countingReader{r: bytes.NewReader(body)}
	_, err := ReadFrame(cr, limits)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if cr.n > HeaderLen {
		t.Fatalf("codec read %d bytes, expected header only", cr.n)
	}
}

func TestReadFrameAtLimitSucceeds(t *testing.T) {
	limits := Limits{MaxFrameBytes: 8}
	payload := []byte("12345678")
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload, limits); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, limits)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameOversizedPayloadRejected(t *testing.T) {
	limits := Limits{MaxFrameBytes: 4}
	var buf bytes.Buffer
	err := WriteFrame(&buf, []byte("12345"), limits)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversized write left %d bytes on the wire", buf.Len())
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], 10)
	body := append(hdr[:], []byte("short")...)
	_, err := ReadFrame(bytes.NewReader(body), DefaultLimits())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(out))
	}
}

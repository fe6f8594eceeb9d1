package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrOversize means the declared frame length exceeds the configured
	// maximum. The body is never read.
	ErrOversize = errors.New("frame exceeds maximum upload size")

	// ErrBadFrame means the frame body is not valid UTF-8 JSON.
	ErrBadFrame = errors.New("bad frame")
)

// ReadFrame reads one length-prefixed message: a 4-byte big-endian
// unsigned length followed by that many bytes of JSON.
func ReadFrame(r io.Reader, max uint32) (json.RawMessage, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > max {
		return nil, fmt.Errorf("%w: declared %d, max %d", ErrOversize, length, max)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	if !json.Valid(body) {
		return nil, ErrBadFrame
	}
	return body, nil
}

// WriteFrame serializes v and writes it as one length-prefixed message.
// The caller owns flushing the underlying writer.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame body: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MaxContentSize bounds the chat text carried inside one envelope.
	MaxContentSize = 4096

	// maxFrameSize leaves room for the envelope header fields on top of
	// the content bound. A larger length prefix is treated as a corrupt
	// stream rather than an allocation request.
	maxFrameSize = MaxContentSize + 1024
)

// A frame is a uint32 big-endian length prefix followed by that many
// payload bytes. The zero-length frame is legal: it is the disconnect
// sentinel exchanged by both sides of a connection.

// WriteFrame writes one length-prefixed frame. An empty payload produces
// the disconnect sentinel.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(payload), maxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame. It returns an empty payload for the
// disconnect sentinel; end-of-stream and oversized prefixes surface as
// errors.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 {
		return nil, nil
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame prefix %d exceeds limit %d", size, maxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Reckless312/peerchat/chat/domain"
)

// The envelope is a fixed-schema binary record: three length-prefixed
// UTF-8 strings (content, timestamp, sender) followed by one byte each
// for alignment and sender role. String lengths are uint16 big-endian.

// EncodeEnvelope serializes a message into one frame payload.
func EncodeEnvelope(m domain.Message) ([]byte, error) {
	if len(m.Content) > MaxContentSize {
		return nil, fmt.Errorf("content of %d bytes exceeds limit %d", len(m.Content), MaxContentSize)
	}
	var buf bytes.Buffer
	for _, s := range []string{m.Content, m.Timestamp, m.SenderName} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(byte(m.Alignment))
	buf.WriteByte(byte(m.SenderRole))
	return buf.Bytes(), nil
}

// DecodeEnvelope parses one frame payload back into a message. Unknown
// alignment or role bytes fail the decode.
func DecodeEnvelope(payload []byte) (domain.Message, error) {
	r := bytes.NewReader(payload)
	var m domain.Message
	var err error
	if m.Content, err = readString(r); err != nil {
		return domain.Message{}, fmt.Errorf("envelope content: %w", err)
	}
	if m.Timestamp, err = readString(r); err != nil {
		return domain.Message{}, fmt.Errorf("envelope timestamp: %w", err)
	}
	if m.SenderName, err = readString(r); err != nil {
		return domain.Message{}, fmt.Errorf("envelope sender: %w", err)
	}
	alignment, err := r.ReadByte()
	if err != nil {
		return domain.Message{}, fmt.Errorf("envelope alignment: %w", err)
	}
	role, err := r.ReadByte()
	if err != nil {
		return domain.Message{}, fmt.Errorf("envelope role: %w", err)
	}
	if alignment > byte(domain.AlignRight) {
		return domain.Message{}, fmt.Errorf("unknown alignment byte %d", alignment)
	}
	if role > byte(domain.RoleHost) {
		return domain.Message{}, fmt.Errorf("unknown role byte %d", role)
	}
	if r.Len() != 0 {
		return domain.Message{}, fmt.Errorf("%d trailing bytes after envelope", r.Len())
	}
	m.Alignment = domain.Alignment(alignment)
	m.SenderRole = domain.Role(role)
	return m, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > int(^uint16(0)) {
		return fmt.Errorf("string field of %d bytes overflows length prefix", len(s))
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(s)))
	buf.Write(prefix[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", err
	}
	size := binary.BigEndian.Uint16(prefix[:])
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

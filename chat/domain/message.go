package domain

import "time"

// Alignment is the display side a message is rendered on. The relay
// always stamps Left; each receiving client rewrites it against its own
// username before the message reaches a screen.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

func (a Alignment) String() string {
	switch a {
	case AlignLeft:
		return "left"
	case AlignRight:
		return "right"
	default:
		return "unknown"
	}
}

// Message is the broadcast envelope produced by the relay. It is
// immutable once sent; alignment rewriting happens on copies held by the
// receiving side.
type Message struct {
	Content    string
	Timestamp  string
	SenderName string
	Alignment  Alignment
	SenderRole Role
}

// NewMessage stamps the current wall-clock time and left alignment; the
// relay never knows per-viewer alignment.
func NewMessage(content, senderName string, senderRole Role) Message {
	return Message{
		Content:    content,
		Timestamp:  time.Now().Format("15:04:05"),
		SenderName: senderName,
		Alignment:  AlignLeft,
		SenderRole: senderRole,
	}
}

package bus

import "time"

// InboundMessage is one user message accepted from a transport. Transports
// drop self-sent and empty messages before publishing.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	RequestID  string            `json:"request_id"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundKind names what an outbound message carries.
type OutboundKind string

const (
	OutboundText  OutboundKind = "text"
	OutboundImage OutboundKind = "image"
	OutboundFile  OutboundKind = "file"
)

// OutboundMessage is one rendered action for a bus-backed transport.
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Kind       OutboundKind      `json:"kind"`
	Content    string            `json:"content,omitempty"`
	URL        string            `json:"url,omitempty"`
	Filename   string            `json:"filename,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

package bus

import "time"

// Kind classifies an event or command payload.
type Kind string

const (
	KindText   Kind = "text"
	KindMedia  Kind = "media"
	KindStatus Kind = "status"
)

// MediaRef describes a media payload staged on the local filesystem.
type MediaRef struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

// InboundEvent is a unit of activity observed on one external account.
// Immutable once created; consumed exactly once by the relay.
type InboundEvent struct {
	AccountID  string    `json:"account_id"`
	ChatID     string    `json:"chat_id"`
	ChatName   string    `json:"chat_name"`
	Sender     string    `json:"sender"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Media      *MediaRef `json:"media,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// OutboundCommand is a unit of work to be executed against one external
// account. Either ChatID or ChatName is sufficient for the worker to
// locate the chat.
type OutboundCommand struct {
	AccountID string    `json:"account_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	ChatName  string    `json:"chat_name,omitempty"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Media     *MediaRef `json:"media,omitempty"`
}

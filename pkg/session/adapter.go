// Package session owns the per-account worker: it drives one external
// session adapter, translates raw activity into inbound events, applies
// outbound commands, and tracks the account's connection health.
package session

import (
	"context"
	"errors"

	"github.com/tinyland-inc/waferry/pkg/bus"
)

// ErrSessionUnavailable means the session cannot be re-established
// without manual intervention (credentials or QR re-authentication).
// Adapters return it from Reconnect; it is never retried.
var ErrSessionUnavailable = errors.New("session unavailable: re-authentication required")

// ChatHandle identifies a chat on the external account. Name is the
// display name; ID may be empty for adapters that locate chats by name.
type ChatHandle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one new item read from a chat.
type Message struct {
	Sender string
	Kind   bus.Kind
	Text   string
	Media  *bus.MediaRef
}

// Adapter is the capability set a worker needs from an external
// account session. Implementations own all platform mechanics; the
// worker only sees chats, messages, and errors.
type Adapter interface {
	ListUnreadChats(ctx context.Context) ([]ChatHandle, error)
	OpenChat(ctx context.Context, chat ChatHandle) error
	ReadNewMessages(ctx context.Context, chat ChatHandle) ([]Message, error)
	SendText(ctx context.Context, chat ChatHandle, text string) error
	SendMedia(ctx context.Context, chat ChatHandle, path string) error
	IsSessionAlive(ctx context.Context) bool
	Reconnect(ctx context.Context) error
}

// IsFatal reports whether an adapter error is terminal rather than a
// transient I/O failure. Transient failures feed the health thresholds;
// fatal ones end the session immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionUnavailable)
}

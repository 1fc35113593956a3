package whatsapp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/waferry/pkg/bus"
	"github.com/tinyland-inc/waferry/pkg/session"
)

// Adapter adapts one driver-backed WhatsApp Web session to the
// session.Adapter contract.
type Adapter struct {
	driver     *Driver
	profileDir string
	log        zerolog.Logger
}

// NewAdapter wraps a connected driver. profileDir names the persisted
// browser profile the driver should attach this session to.
func NewAdapter(driver *Driver, profileDir string, log zerolog.Logger) *Adapter {
	return &Adapter{
		driver:     driver,
		profileDir: profileDir,
		log:        log.With().Str("component", "whatsapp").Logger(),
	}
}

type chatInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type messageInfo struct {
	Sender string `json:"sender"`
	Kind   string `json:"kind"` // "text" | "media"
	Text   string `json:"text,omitempty"`
	Media  *struct {
		Path     string `json:"path"`
		MimeType string `json:"mime_type"`
		Filename string `json:"filename,omitempty"`
	} `json:"media,omitempty"`
}

func (a *Adapter) ListUnreadChats(ctx context.Context) ([]session.ChatHandle, error) {
	var chats []chatInfo
	if err := a.driver.call(ctx, "list_unread", nil, &chats); err != nil {
		return nil, err
	}
	handles := make([]session.ChatHandle, len(chats))
	for i, c := range chats {
		handles[i] = session.ChatHandle{ID: c.ID, Name: c.Name}
	}
	return handles, nil
}

func (a *Adapter) OpenChat(ctx context.Context, chat session.ChatHandle) error {
	return a.driver.call(ctx, "open_chat", map[string]string{
		"id":   chat.ID,
		"name": chat.Name,
	}, nil)
}

func (a *Adapter) ReadNewMessages(ctx context.Context, chat session.ChatHandle) ([]session.Message, error) {
	var raw []messageInfo
	err := a.driver.call(ctx, "read_new", map[string]string{
		"id":   chat.ID,
		"name": chat.Name,
	}, &raw)
	if err != nil {
		return nil, err
	}

	msgs := make([]session.Message, 0, len(raw))
	for _, m := range raw {
		msg := session.Message{Sender: m.Sender, Kind: bus.KindText, Text: m.Text}
		if m.Kind == "media" && m.Media != nil {
			msg.Kind = bus.KindMedia
			msg.Media = &bus.MediaRef{
				Path:     m.Media.Path,
				MimeType: m.Media.MimeType,
				Filename: m.Media.Filename,
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (a *Adapter) SendText(ctx context.Context, chat session.ChatHandle, text string) error {
	return a.driver.call(ctx, "send_text", map[string]string{
		"id":   chat.ID,
		"name": chat.Name,
		"text": text,
	}, nil)
}

func (a *Adapter) SendMedia(ctx context.Context, chat session.ChatHandle, path string) error {
	return a.driver.call(ctx, "send_media", map[string]string{
		"id":   chat.ID,
		"name": chat.Name,
		"path": path,
	}, nil)
}

func (a *Adapter) IsSessionAlive(ctx context.Context) bool {
	var alive bool
	if err := a.driver.call(ctx, "alive", nil, &alive); err != nil {
		return false
	}
	return alive
}

// Reconnect re-establishes the websocket and asks the driver to restore
// the session from its persisted profile. A driver that needs QR
// re-authentication is unrecoverable without a human.
func (a *Adapter) Reconnect(ctx context.Context) error {
	if err := a.driver.redial(ctx); err != nil {
		return err
	}
	err := a.driver.call(ctx, "reconnect", map[string]string{"profile_dir": a.profileDir}, nil)
	if err != nil {
		if isAuthRequired(err) {
			return fmt.Errorf("%w: %v", session.ErrSessionUnavailable, err)
		}
		return err
	}
	a.log.Info().Msg("driver session restored")
	return nil
}

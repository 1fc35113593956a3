// Package telegram implements the relay target client against the
// Telegram Bot API: all forwarded traffic lands in one configured chat,
// and replies in that chat are routed back through the reply handler.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"
)

// ReplyFunc receives a reply observed in the relay chat. replyToKey is
// the id of the message being replied to, as issued by DeliverText or
// DeliverMedia.
type ReplyFunc func(ctx context.Context, replyToKey, content string)

const replyHint = "Reply to a forwarded message to route your answer back to its chat."

// Client delivers bridge traffic to a single Telegram chat.
type Client struct {
	bot    *telego.Bot
	chatID telego.ChatID
	log    zerolog.Logger
}

func New(token string, chatID int64, log zerolog.Logger) (*Client, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &Client{
		bot:    bot,
		chatID: tu.ID(chatID),
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

// DeliverText sends a labeled text message and returns its message id.
func (c *Client) DeliverText(ctx context.Context, label, text string) (string, error) {
	body := text
	if label != "" {
		body = label + " " + text
	}
	msg, err := c.bot.SendMessage(ctx, tu.Message(c.chatID, body))
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

// DeliverMedia uploads a staged file as a document with the origin
// label folded into the caption, and returns the message id.
func (c *Client) DeliverMedia(ctx context.Context, label, path, caption string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening media file: %w", err)
	}
	defer f.Close()

	text := caption
	if label != "" {
		text = label + " " + caption
	}
	params := tu.Document(c.chatID, tu.File(tu.NameReader(f, filepath.Base(path)))).
		WithCaption(text)
	msg, err := c.bot.SendDocument(ctx, params)
	if err != nil {
		return "", fmt.Errorf("sending document: %w", err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

// DeliverAlert sends an unlabeled operator-visible message.
func (c *Client) DeliverAlert(ctx context.Context, text string) error {
	_, err := c.bot.SendMessage(ctx, tu.Message(c.chatID, text))
	if err != nil {
		return fmt.Errorf("sending alert: %w", err)
	}
	return nil
}

// Listen long-polls the relay chat until the context is cancelled.
// Replies to forwarded messages invoke onReply with the replied-to
// message id; anything else in the chat gets a usage hint.
func (c *Client) Listen(ctx context.Context, onReply ReplyFunc) error {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting long polling: %w", err)
	}
	c.log.Info().Msg("listening for replies")

	for update := range updates {
		msg := update.Message
		if msg == nil || msg.Chat.ID != c.chatID.ID {
			continue
		}
		if msg.ReplyToMessage == nil {
			if err := c.DeliverAlert(ctx, replyHint); err != nil {
				c.log.Warn().Err(err).Msg("reply hint undelivered")
			}
			continue
		}
		content := msg.Text
		if content == "" {
			content = msg.Caption
		}
		onReply(ctx, strconv.Itoa(msg.ReplyToMessage.MessageID), content)
	}
	return ctx.Err()
}

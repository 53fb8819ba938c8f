// Package telegram adapts the Telegram Bot API to the channel interface.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/lucyd-ai/lucyd/internal/channel"
	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Telegram's hard limit per message.
const messageLimit = 4096

const downloadTimeout = 30 * time.Second

// Config holds the Telegram transport settings.
type Config struct {
	BotToken     string  `toml:"bot_token"`
	AllowedUsers []int64 `toml:"allowed_users"`
	SpoolDir     string  `toml:"-"`
}

// Adapter implements channel.Channel over telebot.
type Adapter struct {
	bot     *tele.Bot
	config  Config
	allowed map[int64]bool
	inbound chan types.InboundMessage
}

var _ channel.Channel = (*Adapter)(nil)

// New creates the Telegram adapter. Connect starts polling.
func New(cfg Config) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	L_debug("telegram: bot created", "username", bot.Me.Username, "id", bot.Me.ID)

	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = true
	}

	a := &Adapter{
		bot:     bot,
		config:  cfg,
		allowed: allowed,
		inbound: make(chan types.InboundMessage, 100),
	}
	a.setupHandlers()
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Connect starts long polling in the background.
func (a *Adapter) Connect(ctx context.Context) error {
	go a.bot.Start()
	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	L_info("telegram: connected", "username", a.bot.Me.Username)
	return nil
}

func (a *Adapter) Receive() <-chan types.InboundMessage { return a.inbound }

// Disconnect stops polling and closes the inbound stream.
func (a *Adapter) Disconnect() error {
	a.bot.Stop()
	close(a.inbound)
	return nil
}

// EncodeMessageID maps a Telegram message id into the inbound timestamp
// field so reactions can find the message again.
func EncodeMessageID(msgID int) int64 { return int64(msgID) * 1000 }

// DecodeMessageID recovers the Telegram message id from a timestamp.
func DecodeMessageID(timestamp int64) int { return int(timestamp / 1000) }

func (a *Adapter) setupHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		return a.ingest(c, c.Text(), nil)
	})
	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		att, err := a.downloadAttachment(&c.Message().Photo.File, "photo.jpg", false)
		if err != nil {
			L_error("telegram: photo download failed", "error", err)
			return c.Send("Sorry, I couldn't fetch that image.")
		}
		return a.ingest(c, c.Message().Caption, []types.Attachment{*att})
	})
	a.bot.Handle(tele.OnVoice, func(c tele.Context) error {
		att, err := a.downloadAttachment(&c.Message().Voice.File, "voice.ogg", true)
		if err != nil {
			L_error("telegram: voice download failed", "error", err)
			return c.Send("Sorry, I couldn't fetch that voice message.")
		}
		return a.ingest(c, "", []types.Attachment{*att})
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		doc := c.Message().Document
		att, err := a.downloadAttachment(&doc.File, doc.FileName, false)
		if err != nil {
			L_error("telegram: document download failed", "error", err)
			return c.Send("Sorry, I couldn't fetch that file.")
		}
		return a.ingest(c, c.Message().Caption, []types.Attachment{*att})
	})
}

// ingest converts one update into an InboundMessage. Unknown senders are
// silently ignored.
func (a *Adapter) ingest(c tele.Context, text string, attachments []types.Attachment) error {
	sender := c.Sender()
	if c.Chat().Type != tele.ChatPrivate {
		L_trace("telegram: ignoring group message", "chat", c.Chat().ID)
		return nil
	}
	if len(a.allowed) > 0 && !a.allowed[sender.ID] {
		L_warn("telegram: unknown user ignored", "userID", sender.ID)
		return nil
	}

	msg := types.InboundMessage{
		Text:        text,
		Sender:      strconv.FormatInt(sender.ID, 10),
		Timestamp:   EncodeMessageID(c.Message().ID),
		Source:      types.SourceTelegram,
		Attachments: attachments,
	}
	if reply := c.Message().ReplyTo; reply != nil {
		msg.QuotedText = reply.Text
	}

	select {
	case a.inbound <- msg:
	default:
		L_error("telegram: inbound buffer full, dropping message", "sender", msg.Sender)
	}
	return nil
}

// downloadAttachment fetches a file into the spool directory.
func (a *Adapter) downloadAttachment(file *tele.File, name string, voice bool) (*types.Attachment, error) {
	if file == nil || file.FileID == "" {
		return nil, fmt.Errorf("missing file id")
	}
	info, err := a.bot.FileByID(file.FileID)
	if err != nil {
		return nil, fmt.Errorf("file info: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", a.bot.Token, info.FilePath)
	client := &http.Client{Timeout: downloadTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(a.config.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	path := filepath.Join(a.config.SpoolDir, fmt.Sprintf("%s-%s", file.UniqueID, name))
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("spool file: %w", err)
	}
	defer out.Close()
	size, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write spool file: %w", err)
	}

	mimeType := mimeFromName(name)
	return &types.Attachment{
		MimeType: mimeType,
		Path:     path,
		Filename: name,
		Size:     size,
		IsVoice:  voice,
	}, nil
}

func mimeFromName(name string) string {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Send delivers a reply, split into Telegram-sized chunks, as HTML with a
// plain-text fallback per chunk.
func (a *Adapter) Send(ctx context.Context, recipient, text string) error {
	chat, err := chatFor(recipient)
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, messageLimit) {
		formatted := FormatMessage(chunk)
		if _, err := a.bot.Send(chat, formatted, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
			L_debug("telegram: HTML send failed, retrying plain", "error", err)
			if _, err := a.bot.Send(chat, chunk); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
	return nil
}

// SendTyping shows the typing indicator, best-effort.
func (a *Adapter) SendTyping(ctx context.Context, recipient string) {
	chat, err := chatFor(recipient)
	if err != nil {
		return
	}
	if err := a.bot.Notify(chat, tele.Typing); err != nil {
		L_trace("telegram: typing notify failed", "error", err)
	}
}

// SendReaction reacts to the message identified by an inbound timestamp.
func (a *Adapter) SendReaction(ctx context.Context, recipient string, timestamp int64, emoji string) error {
	chat, err := chatFor(recipient)
	if err != nil {
		return err
	}
	msg := &tele.Message{ID: DecodeMessageID(timestamp), Chat: chat}
	reactions := tele.Reactions{
		Reactions: []tele.Reaction{{Type: tele.ReactionTypeEmoji, Emoji: emoji}},
	}
	if err := a.bot.React(chat, msg, reactions); err != nil {
		return fmt.Errorf("react: %w", err)
	}
	return nil
}

func chatFor(recipient string) (*tele.Chat, error) {
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad telegram recipient %q: %w", recipient, err)
	}
	return &tele.Chat{ID: id}, nil
}

// splitMessage cuts text into chunks under the limit, preferring newline
// boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if text[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

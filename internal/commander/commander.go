package commander

import (
	"context"
	"strconv"
	"strings"
)

// Commander is the chat transport abstraction used by the bot.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      *string     `json:"text,omitempty"`
	Caption   *string     `json:"caption,omitempty"`
	Voice     *Voice      `json:"voice,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Date      int64       `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies the sender of a message.
type User struct {
	ID int64 `json:"id"`
}

// Voice is a recorded voice note.
type Voice struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// PhotoSize is one resolution of a sent photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Kind classifies what a message carries.
type Kind string

const (
	KindCommand     Kind = "command"
	KindText        Kind = "text"
	KindVoice       Kind = "voice"
	KindPhoto       Kind = "photo"
	KindUnsupported Kind = "unsupported"
)

// UserID returns the sender id used to key conversation history, falling
// back to the chat id when the sender is unknown.
func (m *Message) UserID() string {
	if m.From != nil && m.From.ID != 0 {
		return strconv.FormatInt(m.From.ID, 10)
	}
	return strconv.FormatInt(m.Chat.ID, 10)
}

// Kind reports what the message carries.
func (m *Message) Kind() Kind {
	switch {
	case m.Text != nil && strings.HasPrefix(strings.TrimSpace(*m.Text), "/"):
		return KindCommand
	case m.Text != nil && strings.TrimSpace(*m.Text) != "":
		return KindText
	case m.Voice != nil && m.Voice.FileID != "":
		return KindVoice
	case len(m.Photo) > 0:
		return KindPhoto
	default:
		return KindUnsupported
	}
}

// Command returns the command name without slash or bot suffix, e.g.
// "/reset@EnerlyticBot now" yields "reset". Empty for non-commands.
func (m *Message) Command() string {
	if m.Kind() != KindCommand {
		return ""
	}
	fields := strings.Fields(*m.Text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// LargestPhoto returns the highest resolution photo, or nil.
func (m *Message) LargestPhoto() *PhotoSize {
	var best *PhotoSize
	for i := range m.Photo {
		p := &m.Photo[i]
		if best == nil || p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// CaptionText returns the caption or "".
func (m *Message) CaptionText() string {
	if m.Caption == nil {
		return ""
	}
	return strings.TrimSpace(*m.Caption)
}

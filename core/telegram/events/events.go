// Package events holds the transport-neutral view of inbound updates and the
// handler signatures the dispatcher invokes.
package events

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/state"
)

// Sender is the author of an update.
type Sender struct {
	ID           int64
	IsBot        bool
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// Profile returns the fields stored for a new user.
func (s Sender) Profile() state.Profile {
	return state.Profile{
		ID:        s.ID,
		Username:  s.Username,
		FirstName: s.FirstName,
		LastName:  s.LastName,
	}
}

// Message is an inbound text message.
type Message struct {
	UpdateID int
	ID       int
	ChatID   int64
	Sender   Sender
	Text     string
	// Raw is the transport message when the update came from Telegram.
	Raw *tele.Message
}

// Command splits a "/name[@bot] args" text. ok is false for plain text.
func (m *Message) Command() (name, args string, ok bool) {
	if m == nil {
		return "", "", false
	}
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	name, args, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	return name, strings.TrimSpace(args), true
}

// Callback is an inline button press.
type Callback struct {
	ID       string
	UpdateID int
	Sender   Sender
	Data     string
	// Message is the message carrying the pressed button; nil for inline-mode messages.
	Message *Message
	Raw     *tele.Callback
}

// TextHandler handles a text message. pending is the reply-wait token that was
// consumed for this message, or nil.
type TextHandler func(ctx context.Context, msg *Message, user *storage.User, pending *callbacks.Token) error

// ReplyHandler handles the text reply a user gave to an armed reply-wait.
type ReplyHandler func(ctx context.Context, msg *Message, user *storage.User, params []string) error

// ButtonHandler handles a button press. user is nil when the sender is not
// stored yet: callbacks never create users.
type ButtonHandler func(ctx context.Context, cb *Callback, user *storage.User, params []string) error

// CallbackHandler handles callbacks no button route claims.
type CallbackHandler func(ctx context.Context, cb *Callback) error

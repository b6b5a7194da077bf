// Package examplebot is a small bot showing the core in use: a reply-wait
// echo, mood buttons and admin-only routes.
package examplebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/buildinfo"
	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/commands"
	"github.com/m3rciful/botstarter/core/telegram/events"
	"github.com/m3rciful/botstarter/core/telegram/keyboard"
	"github.com/m3rciful/botstarter/core/telegram/state"
)

// Action names carried in button payloads and reply-waits.
const (
	ActionEcho       = "echo"
	ActionEchoCancel = "echo_cancel"
	ActionMood       = "mood"
	ActionPromote    = "promote"
	ActionPromoteAsk = "promote_ask"
)

var moods = []string{"happy", "calm", "tired"}

// Sender is the part of the transport the handlers use.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (*tele.Message, error)
	Reply(ctx context.Context, msg *events.Message, text string, markup *tele.ReplyMarkup) (*tele.Message, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) (*tele.Message, error)
	SendOrUploadPhoto(ctx context.Context, chatID int64, path, caption string, markup *tele.ReplyMarkup) (*tele.Message, error)
	SendVenue(ctx context.Context, chatID int64, lat, lng float64, title, address string) (*tele.Message, error)
	Typing(ctx context.Context, chatID int64) error
}

// Venue is the place /where points to.
type Venue struct {
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
	Title   string  `yaml:"title"`
	Address string  `yaml:"address"`
}

// Handlers implements the example bot routes.
type Handlers struct {
	send     Sender
	sessions *state.Manager
	codec    *callbacks.Codec
	reg      *telegram.Registry

	welcomePhoto string
	venue        Venue
}

// HandlersOptions configures NewHandlers.
type HandlersOptions struct {
	Sender       Sender
	Sessions     *state.Manager
	WelcomePhoto string
	Venue        Venue
}

// NewHandlers returns handlers bound to opts.
func NewHandlers(opts HandlersOptions) *Handlers {
	return &Handlers{
		send:         opts.Sender,
		sessions:     opts.Sessions,
		codec:        opts.Sessions.Codec(),
		welcomePhoto: opts.WelcomePhoto,
		venue:        opts.Venue,
	}
}

// Register binds every route to reg.
func (h *Handlers) Register(reg *telegram.Registry) error {
	h.reg = reg
	h.sessions.OnUserCreate(nameFromUsername)
	cmds := map[string]commands.Command{
		"/start":   {Handler: h.start, Description: "Say hello", Aliases: []string{"/mood"}},
		"/help":    {Handler: h.help, Description: "List commands"},
		"/echo":    {Handler: h.echo, Description: "Repeat your next message"},
		"/where":   {Handler: h.where, Description: "Show where we are"},
		"/admin":   {Handler: h.admin, Description: "Admin panel", AdminOnly: true},
		"/version": {Handler: h.version, Description: "Build version", Hidden: true},
	}
	for name, cmd := range cmds {
		if err := reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}
	if err := reg.RegisterReplyHandler(ActionEcho, h.echoReply); err != nil {
		return err
	}
	if err := reg.RegisterReplyHandler(ActionPromote, h.promoteReply); err != nil {
		return err
	}
	buttons := []struct {
		action    string
		handler   events.ButtonHandler
		adminOnly bool
	}{
		{ActionMood, h.mood, false},
		{ActionEchoCancel, h.echoCancel, false},
		{ActionPromoteAsk, h.promoteAsk, true},
	}
	for _, b := range buttons {
		if err := reg.RegisterButton(b.action, b.handler, b.adminOnly); err != nil {
			return err
		}
	}
	return reg.SetTextFallback(h.fallback)
}

// nameFromUsername greets users without a first name by their username.
func nameFromUsername(_ context.Context, u *storage.User, p state.Profile) error {
	if u.FirstName == "" {
		u.FirstName = p.Username
	}
	return nil
}

func (h *Handlers) moodKeyboard() (*tele.ReplyMarkup, error) {
	buttons := make([]callbacks.Button, 0, len(moods))
	for _, m := range moods {
		b, err := h.codec.Button(ActionMood, strings.ToUpper(m[:1])+m[1:], m)
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, b)
	}
	return keyboard.InlineNPerRow(buttons, 3), nil
}

func (h *Handlers) start(ctx context.Context, msg *events.Message, user *storage.User, _ *callbacks.Token) error {
	if h.welcomePhoto != "" {
		if _, err := h.send.SendOrUploadPhoto(ctx, msg.ChatID, h.welcomePhoto, "", nil); err != nil {
			// the greeting still goes out without the picture
			logger.Warn(ctx, logger.CompApp, "welcome_photo", slog.String("err", err.Error()))
		}
	}
	markup, err := h.moodKeyboard()
	if err != nil {
		return err
	}
	name := user.FirstName
	if name == "" {
		name = "there"
	}
	_, err = h.send.Send(ctx, msg.ChatID, fmt.Sprintf("Hi, %s! How do you feel today?", name), markup)
	return err
}

func (h *Handlers) help(ctx context.Context, msg *events.Message, user *storage.User, _ *callbacks.Token) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range h.reg.ListCommands(!user.IsAdmin) {
		fmt.Fprintf(&b, "/%s - %s\n", c.Text, c.Description)
	}
	_, err := h.send.Send(ctx, msg.ChatID, b.String(), nil)
	return err
}

func (h *Handlers) echo(ctx context.Context, msg *events.Message, user *storage.User, _ *callbacks.Token) error {
	_, prefix, _ := msg.Command()
	if err := h.sessions.ArmReplyWait(ctx, user, ActionEcho, prefix); err != nil {
		return err
	}
	cancel, err := keyboard.CancelButton(h.codec, ActionEchoCancel, "")
	if err != nil {
		return err
	}
	if _, err := h.send.Reply(ctx, msg, "Send me something and I will repeat it.", keyboard.ForceReply()); err != nil {
		return err
	}
	_, err = h.send.Send(ctx, msg.ChatID, "Changed your mind?", keyboard.Inline([]callbacks.Button{cancel}))
	return err
}

func (h *Handlers) echoReply(ctx context.Context, msg *events.Message, _ *storage.User, params []string) error {
	prefix, _ := callbacks.ParamAt(params, 0)
	text := msg.Text
	if prefix != "" {
		text = prefix + " " + text
	}
	_, err := h.send.Reply(ctx, msg, text, keyboard.RemoveKeyboard())
	return err
}

func (h *Handlers) echoCancel(ctx context.Context, cb *events.Callback, user *storage.User, _ []string) error {
	if user != nil {
		if err := h.sessions.SetWaitingOn(ctx, user.ID, nil); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return h.edit(ctx, cb, "Cancelled.")
}

func (h *Handlers) mood(ctx context.Context, cb *events.Callback, _ *storage.User, params []string) error {
	mood, err := callbacks.ParamAt(params, 0)
	if err != nil {
		return err
	}
	return h.edit(ctx, cb, fmt.Sprintf("Noted: you feel %s.", mood))
}

func (h *Handlers) where(ctx context.Context, msg *events.Message, _ *storage.User, _ *callbacks.Token) error {
	if h.venue.Title == "" {
		_, err := h.send.Send(ctx, msg.ChatID, "No venue configured.", nil)
		return err
	}
	if err := h.send.Typing(ctx, msg.ChatID); err != nil {
		logger.Debug(ctx, logger.CompApp, "typing", slog.String("err", err.Error()))
	}
	_, err := h.send.SendVenue(ctx, msg.ChatID, h.venue.Lat, h.venue.Lng, h.venue.Title, h.venue.Address)
	return err
}

func (h *Handlers) admin(ctx context.Context, msg *events.Message, _ *storage.User, _ *callbacks.Token) error {
	promote, err := h.codec.Button(ActionPromoteAsk, "Promote a user")
	if err != nil {
		return err
	}
	_, err = h.send.Send(ctx, msg.ChatID, "Admin panel", keyboard.Inline([]callbacks.Button{promote}))
	return err
}

func (h *Handlers) promoteAsk(ctx context.Context, cb *events.Callback, user *storage.User, _ []string) error {
	if err := h.sessions.ArmReplyWait(ctx, user, ActionPromote); err != nil {
		return err
	}
	return h.edit(ctx, cb, "Send the Telegram id of the new admin.")
}

func (h *Handlers) promoteReply(ctx context.Context, msg *events.Message, _ *storage.User, _ []string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(msg.Text), 10, 64)
	if err != nil || id <= 0 {
		_, err = h.send.Reply(ctx, msg, "That is not a user id.", nil)
		return err
	}
	if err := h.sessions.Users().SetAdmin(ctx, id, true); err != nil {
		return err
	}
	logger.Info(ctx, logger.CompApp, "admin.promoted", slog.Int64("target_id", id))
	_, err = h.send.Reply(ctx, msg, fmt.Sprintf("User %d is now an admin.", id), nil)
	return err
}

func (h *Handlers) version(ctx context.Context, msg *events.Message, _ *storage.User, _ *callbacks.Token) error {
	_, err := h.send.Send(ctx, msg.ChatID, buildinfo.Get().String(), nil)
	return err
}

func (h *Handlers) fallback(ctx context.Context, msg *events.Message, _ *storage.User, _ *callbacks.Token) error {
	_, err := h.send.Send(ctx, msg.ChatID, "I did not get that. Try /help.", nil)
	return err
}

func (h *Handlers) edit(ctx context.Context, cb *events.Callback, text string) error {
	if cb.Message == nil {
		return nil
	}
	_, err := h.send.EditText(ctx, cb.Message.ChatID, cb.Message.ID, text, nil)
	return err
}

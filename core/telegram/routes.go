package telegram

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/telegram/callbacks"
	"github.com/m3rciful/botstarter/core/telegram/events"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
	"github.com/m3rciful/botstarter/core/telegram/netutil"
	"github.com/m3rciful/botstarter/core/telegram/state"
)

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// DispatchRoutes returns the two routes that feed every text message and
// every callback into d. Commands arrive through OnText because no command
// endpoint is registered with telebot.
func DispatchRoutes(d *Dispatcher) []Route {
	return []Route{
		{
			Endpoint: tele.OnText,
			Handler: func(c tele.Context) error {
				msg := messageFromContext(c)
				if msg == nil {
					return nil
				}
				return handleWithSummary(c, "text", func(ctx context.Context) error {
					return d.HandleText(ctx, msg)
				})
			},
		},
		{
			Endpoint: tele.OnCallback,
			Handler: func(c tele.Context) error {
				cb := callbackFromContext(c)
				if cb == nil {
					return nil
				}
				return handleWithSummary(c, "callback", func(ctx context.Context) error {
					return d.HandleCallback(ctx, cb)
				})
			},
		},
	}
}

func senderFrom(u *tele.User) events.Sender {
	if u == nil {
		return events.Sender{}
	}
	return events.Sender{
		ID:           u.ID,
		IsBot:        u.IsBot,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

func messageFrom(updateID int, m *tele.Message) *events.Message {
	if m == nil {
		return nil
	}
	out := &events.Message{
		UpdateID: updateID,
		ID:       m.ID,
		Sender:   senderFrom(m.Sender),
		Text:     m.Text,
		Raw:      m,
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
	}
	return out
}

func messageFromContext(c tele.Context) *events.Message {
	return messageFrom(c.Update().ID, c.Message())
}

func callbackFromContext(c tele.Context) *events.Callback {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	updateID := c.Update().ID
	return &events.Callback{
		ID:       cb.ID,
		UpdateID: updateID,
		Sender:   senderFrom(cb.Sender),
		Data:     cb.Data,
		Message:  messageFrom(updateID, cb.Message),
		Raw:      cb,
	}
}

// handleWithSummary runs fn with the update context and logs one summary line.
func handleWithSummary(c tele.Context, kind string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx := tghelpers.WithHandler(c, kind)
	err := fn(ctx)
	logHandlerSummary(ctx, kind, start, err)
	return err
}

func logHandlerSummary(ctx context.Context, kind string, start time.Time, err error) {
	msgs, kb := tghelpers.CountersFrom(ctx)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("kind", kind),
		slog.String("outcome", logger.Status(err)),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(netutil.Redact(err), 256)),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.Component(logger.CompDispatch), level, "handler.handled", attrs...)
}

// deriveErrorCode names well-known failures and falls back to the error type name.
func deriveErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, netutil.ErrTransportTimeout):
		return "TRANSPORT_TIMEOUT"
	case errors.Is(err, callbacks.ErrEmptyToken):
		return "EMPTY_TOKEN"
	case errors.Is(err, callbacks.ErrInvalidActionName):
		return "INVALID_ACTION_NAME"
	case errors.Is(err, callbacks.ErrInvalidSeparator):
		return "INVALID_SEPARATOR"
	case errors.Is(err, state.ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrNotInitialized):
		return "NOT_INITIALIZED"
	}
	if code := netutil.Classify(err); code != "unknown" {
		return strings.ToUpper(code)
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}

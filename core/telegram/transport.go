package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/storage"
	"github.com/m3rciful/botstarter/core/telegram/events"
	"github.com/m3rciful/botstarter/core/telegram/format"
	tghelpers "github.com/m3rciful/botstarter/core/telegram/helpers"
	"github.com/m3rciful/botstarter/core/telegram/netutil"
)

// API is the subset of *tele.Bot the façade calls.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	EditReplyMarkup(msg tele.Editable, markup *tele.ReplyMarkup) (*tele.Message, error)
	Delete(msg tele.Editable) error
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
	Notify(to tele.Recipient, action tele.ChatAction, threadID ...int) error
	SetCommands(opts ...interface{}) error
}

// BotOptions wires a Bot.
type BotOptions struct {
	API    API
	Policy netutil.Policy
	// ParseMode is applied to every text; MarkdownV2 text is escaped unless sent with SendFormatted.
	ParseMode tele.ParseMode
	// Medias caches uploaded file ids for SendOrUploadPhoto. Optional.
	Medias storage.MediaStore
}

// Bot sends through the Telegram API with the retry policy applied to every call.
type Bot struct {
	api       API
	policy    netutil.Policy
	parseMode tele.ParseMode
	medias    storage.MediaStore
}

// NewBot validates opts.
func NewBot(opts BotOptions) (*Bot, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("%w: bot needs an API client", ErrNotInitialized)
	}
	return &Bot{
		api:       opts.API,
		policy:    opts.Policy,
		parseMode: opts.ParseMode,
		medias:    opts.Medias,
	}, nil
}

// API returns the underlying client.
func (b *Bot) API() API {
	return b.api
}

func (b *Bot) text(s string) string {
	if b.parseMode == tele.ModeMarkdownV2 {
		return format.EscapeV2(s)
	}
	return s
}

func (b *Bot) sendOptions(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: b.parseMode, ReplyMarkup: markup}
}

func (b *Bot) call(ctx context.Context, op string, fn func() (*tele.Message, error)) (*tele.Message, error) {
	msg, err := netutil.Call(ctx, b.policy, op, fn)
	if err != nil {
		logger.Warn(ctx, logger.CompTransport, "transport.failed",
			slog.String("op", op),
			slog.String("err", netutil.Redact(err)),
			slog.String("err_code", netutil.Classify(err)),
		)
	}
	return msg, err
}

func (b *Bot) do(ctx context.Context, op string, fn func() error) error {
	_, err := b.call(ctx, op, func() (*tele.Message, error) { return nil, fn() })
	return err
}

func storedMessage(chatID int64, messageID int) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
}

// Send sends text to chatID. Text is escaped for MarkdownV2 when that parse mode is active.
func (b *Bot) Send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	return b.SendFormatted(ctx, chatID, b.text(text), markup)
}

// SendFormatted sends text that is already valid in the configured parse mode.
func (b *Bot) SendFormatted(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	msg, err := b.call(ctx, "send", func() (*tele.Message, error) {
		return b.api.Send(tele.ChatID(chatID), text, b.sendOptions(markup))
	})
	if err == nil {
		tghelpers.CountMessage(ctx, markup != nil)
	}
	return msg, err
}

// Reply sends text to the chat msg came from, quoting it when the raw message is known.
func (b *Bot) Reply(ctx context.Context, msg *events.Message, text string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: reply to nil message", ErrNotInitialized)
	}
	opts := b.sendOptions(markup)
	opts.ReplyTo = msg.Raw
	body := b.text(text)
	out, err := b.call(ctx, "reply", func() (*tele.Message, error) {
		return b.api.Send(tele.ChatID(msg.ChatID), body, opts)
	})
	if err == nil {
		tghelpers.CountMessage(ctx, markup != nil)
	}
	return out, err
}

// EditText replaces the text and markup of a sent message.
func (b *Bot) EditText(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	body := b.text(text)
	msg, err := b.call(ctx, "edit_text", func() (*tele.Message, error) {
		return b.api.Edit(storedMessage(chatID, messageID), body, b.sendOptions(markup))
	})
	if err == nil {
		tghelpers.CountMessage(ctx, markup != nil)
	}
	return msg, err
}

// EditMarkup replaces only the inline keyboard of a sent message. A nil markup removes it.
func (b *Bot) EditMarkup(ctx context.Context, chatID int64, messageID int, markup *tele.ReplyMarkup) (*tele.Message, error) {
	return b.call(ctx, "edit_markup", func() (*tele.Message, error) {
		return b.api.EditReplyMarkup(storedMessage(chatID, messageID), markup)
	})
}

// DeleteMessage deletes a message.
func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return b.do(ctx, "delete", func() error {
		return b.api.Delete(storedMessage(chatID, messageID))
	})
}

// AnswerCallback acknowledges a button press. An empty text answers silently.
func (b *Bot) AnswerCallback(ctx context.Context, cb *events.Callback, text string, alert bool) error {
	if cb == nil || cb.ID == "" {
		return nil
	}
	resp := &tele.CallbackResponse{Text: text, ShowAlert: alert}
	return b.do(ctx, "answer_callback", func() error {
		return b.api.Respond(&tele.Callback{ID: cb.ID}, resp)
	})
}

// Typing shows the typing status in chatID until the next message or a few seconds pass.
func (b *Bot) Typing(ctx context.Context, chatID int64) error {
	return b.do(ctx, "typing", func() error {
		return b.api.Notify(tele.ChatID(chatID), tele.Typing)
	})
}

// SendPhoto sends photo with an optional caption.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, photo *tele.Photo, markup *tele.ReplyMarkup) (*tele.Message, error) {
	if photo.Caption != "" {
		photo.Caption = b.text(photo.Caption)
	}
	msg, err := b.call(ctx, "send_photo", func() (*tele.Message, error) {
		return b.api.Send(tele.ChatID(chatID), photo, b.sendOptions(markup))
	})
	if err == nil {
		tghelpers.CountMessage(ctx, markup != nil)
	}
	return msg, err
}

// SendOrUploadPhoto sends the image at path, reusing the Telegram file id
// recorded by an earlier upload. A stale cached id is dropped and the file
// is uploaded again.
func (b *Bot) SendOrUploadPhoto(ctx context.Context, chatID int64, path, caption string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	if b.medias == nil {
		return b.SendPhoto(ctx, chatID, &tele.Photo{File: tele.FromDisk(path), Caption: caption}, markup)
	}

	ref, err := b.medias.FindByPath(ctx, path)
	switch {
	case err == nil:
		msg, sendErr := b.SendPhoto(ctx, chatID, &tele.Photo{File: tele.File{FileID: ref.UploadID}, Caption: caption}, markup)
		if sendErr == nil || netutil.HTTPStatus(sendErr) != http.StatusBadRequest {
			return msg, sendErr
		}
		logger.Info(ctx, logger.CompTransport, "media.stale",
			slog.String("path", path),
			slog.String("err", netutil.Redact(sendErr)),
		)
		if err := b.medias.Delete(ctx, ref.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	msg, err := b.SendPhoto(ctx, chatID, &tele.Photo{File: tele.FromDisk(path), Caption: caption}, markup)
	if err != nil {
		return nil, err
	}
	if msg != nil && msg.Photo != nil && msg.Photo.FileID != "" {
		if _, err := b.medias.Create(ctx, path, msg.Photo.FileID); err != nil {
			logger.Warn(ctx, logger.CompStorage, "media.save_failed",
				slog.String("path", path),
				slog.Any("err", err),
			)
		}
	}
	return msg, nil
}

// SendVenue sends a venue pin.
func (b *Bot) SendVenue(ctx context.Context, chatID int64, lat, lng float64, title, address string) (*tele.Message, error) {
	venue := &tele.Venue{
		Location: tele.Location{Lat: float32(lat), Lng: float32(lng)},
		Title:    title,
		Address:  address,
	}
	msg, err := b.call(ctx, "send_venue", func() (*tele.Message, error) {
		return b.api.Send(tele.ChatID(chatID), venue)
	})
	if err == nil {
		tghelpers.CountMessage(ctx, false)
	}
	return msg, err
}

// SetCommands publishes the command menu.
func (b *Bot) SetCommands(ctx context.Context, cmds []tele.Command) error {
	return b.do(ctx, "set_commands", func() error {
		return b.api.SetCommands(cmds)
	})
}

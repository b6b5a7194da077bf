// Package keyboard builds reply markups whose inline buttons carry packed
// action payloads.
package keyboard

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botstarter/core/telegram/callbacks"
)

const defaultCancelButtonText = "❌ Cancel"

// ForceReply returns a markup that forces the user to reply.
func ForceReply() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{ForceReply: true}
}

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// InlineButton converts b to a telebot inline button. The payload is used as
// raw callback data, so presses reach the OnCallback endpoint undecorated.
func InlineButton(b callbacks.Button) tele.InlineButton {
	return tele.InlineButton{Text: b.Label, Data: b.Payload}
}

// Inline builds an inline keyboard from rows of buttons.
func Inline(rows ...[]callbacks.Button) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for i, b := range row {
			r[i] = InlineButton(b)
		}
		inline = append(inline, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// InlineNPerRow splits buttons into rows of up to n buttons.
// If n <= 1, every button gets its own row.
func InlineNPerRow(buttons []callbacks.Button, n int) *tele.ReplyMarkup {
	if n < 1 {
		n = 1
	}
	var rows [][]callbacks.Button
	for i := 0; i < len(buttons); i += n {
		rows = append(rows, buttons[i:min(i+n, len(buttons))])
	}
	return Inline(rows...)
}

// CancelButton returns a button bound to action with the default cancel label
// unless label is given.
func CancelButton(codec *callbacks.Codec, action string, label string, params ...string) (callbacks.Button, error) {
	if label == "" {
		label = defaultCancelButtonText
	}
	return codec.Button(action, label, params...)
}
